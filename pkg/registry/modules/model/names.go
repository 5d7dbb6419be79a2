package model

import (
	"fmt"
	"strings"
)

// ArchiveSuffix is the extension of every module archive.
const ArchiveSuffix = ".tar.gz"

// NormalizeFullName converts "author-name" to "author/name". Names already in
// slash form, or with no separator at all, are returned unchanged.
func NormalizeFullName(fullName string) string {
	if strings.Contains(fullName, "/") {
		return fullName
	}
	author, name, ok := strings.Cut(fullName, "-")
	if !ok {
		return fullName
	}
	return author + "/" + name
}

// SplitFullName splits "author/name" or "author-name" into its parts. ok is
// false when the name carries no author.
func SplitFullName(fullName string) (author string, name string, ok bool) {
	if author, name, ok = strings.Cut(fullName, "/"); ok {
		return author, name, author != "" && name != ""
	}
	if author, name, ok = strings.Cut(fullName, "-"); ok {
		return author, name, author != "" && name != ""
	}
	return "", fullName, false
}

// KeyFromArchiveName parses "author-name-version.tar.gz". Versions may contain
// dashes (pre-release markers); author and name may not.
func KeyFromArchiveName(filename string) (Key, error) {
	base, ok := strings.CutSuffix(filename, ArchiveSuffix)
	if !ok {
		return Key{}, fmt.Errorf("archive %q does not end in %s", filename, ArchiveSuffix)
	}
	parts := strings.SplitN(base, "-", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Key{}, fmt.Errorf("archive %q is not named author-name-version%s", filename, ArchiveSuffix)
	}
	return Key{Author: parts[0], Name: parts[1], Version: parts[2]}, nil
}

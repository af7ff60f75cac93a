package revision

import (
	"encoding/hex"
	"path"
	"strings"

	"github.com/zeebo/blake3"
)

// DefaultDigestLength is the number of hex characters kept in names.
const DefaultDigestLength = 8

// Digest returns the first n hex characters of the BLAKE3-256 hash of data.
func Digest(data []byte, n int) string {
	sum := blake3.Sum256(data)
	encoded := hex.EncodeToString(sum[:])
	if n <= 0 || n > len(encoded) {
		return encoded
	}
	return encoded[:n]
}

// RevisionedName inserts digest between the stem and the extension of rel:
// "css/app.css" becomes "css/app.<digest>.css". Only the last extension
// counts, so "libraries.dist.js" becomes "libraries.dist.<digest>.js".
func RevisionedName(rel, digest string) string {
	dir, file := path.Split(rel)
	ext := path.Ext(file)
	stem := strings.TrimSuffix(file, ext)
	if stem == "" {
		// Dotfiles such as ".nojekyll" have no stem.
		stem, ext = file, ""
	}
	return dir + stem + "." + digest + ext
}

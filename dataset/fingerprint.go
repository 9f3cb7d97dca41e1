package dataset

import (
	"encoding/hex"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint hashes the schema and the record count. The coordinator sends
// it with the initiation message; a party whose local view disagrees refuses
// the run instead of producing misaligned counts.
func Fingerprint(attrs []AttributeMetadata, classIndex, numRows int) string {
	var b strings.Builder
	for _, a := range attrs {
		b.WriteString(a.Name)
		b.WriteByte(0)
		b.WriteString(a.Kind.String())
		b.WriteByte(0)
		b.WriteString(strings.Join(a.NominalValues, "\x01"))
		b.WriteByte(0)
	}
	b.WriteString(strconv.Itoa(classIndex))
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(numRows))

	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

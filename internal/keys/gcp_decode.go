package keys

import "encoding/base64"

// decodeBase64PKCS8 decodes the GCP composite secret's private-key field.
// Per spec §6.3 the field carries no embedded newlines and PEM markers are
// stripped before base64 encoding, so a plain std-encoding decode suffices.
func decodeBase64PKCS8(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}

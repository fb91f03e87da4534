package utils

import "github.com/google/uuid"

// GenerateUUID generates a new UUID v4 string. Used for batch ids, image
// record ids, and safe-filename prefixes.
func GenerateUUID() string {
	return uuid.New().String()
}

// IsValidUUID checks if a string parses as a UUID.
func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

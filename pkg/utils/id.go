package utils

import "github.com/google/uuid"

// GenerateID returns a random UUID; every primary key is one.
func GenerateID() string {
	return uuid.NewString()
}

func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

package db

import (
	"crypto/rand"
	"encoding/hex"
)

const (
	userIDPrefix       = "u_"
	apiKeyIDPrefix     = "ak_"
	projectIDPrefix    = "prj-"
	issueIDPrefix      = "iss-"
	commentIDPrefix    = "cm-"
	labelIDPrefix      = "lbl-"
	attachmentIDPrefix = "att-"
	activityIDPrefix   = "act-"
)

// idGenerator is the function used to generate random ID suffixes.
// It can be replaced in tests to control ID generation.
var idGenerator = defaultGenerateID

// defaultGenerateID returns 10 hex characters from crypto/rand
func defaultGenerateID() (string, error) {
	bytes := make([]byte, 5)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func generateID(prefix string) (string, error) {
	suffix, err := idGenerator()
	if err != nil {
		return "", err
	}
	return prefix + suffix, nil
}

package main

import (
	"crypto/rsa"
	"os"
	"strconv"
	"time"

	"go-document-verifier/models"

	"github.com/golang-jwt/jwt/v4"
)

// ReceiptCreator signs the extracted fields into a verifiable receipt that
// the caller can hand to downstream systems.
type ReceiptCreator interface {
	CreateReceipt(result models.ExtractionResult) (receipt string, err error)
}

type DefaultReceiptCreator struct {
	privateKey *rsa.PrivateKey
	issuerId   string
}

const receiptValidity = 24 * time.Hour

func NewReceiptCreator(privateKeyPath string, issuerId string) (*DefaultReceiptCreator, error) {
	keyBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, err
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(keyBytes)
	if err != nil {
		return nil, err
	}

	return &DefaultReceiptCreator{
		privateKey: privateKey,
		issuerId:   issuerId,
	}, nil
}

func (rc *DefaultReceiptCreator) CreateReceipt(result models.ExtractionResult) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":        rc.issuerId,
		"iat":        now.Unix(),
		"exp":        now.Add(receiptValidity).Unix(),
		"extraction": receiptAttributes(result),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(rc.privateKey)
}

func receiptAttributes(result models.ExtractionResult) map[string]string {
	attributes := map[string]string{}

	if result.Identity != nil {
		attributes["givenName"] = result.Identity.GivenName
		attributes["familyName"] = result.Identity.FamilyName
		attributes["nationalityCode"] = result.Identity.NationalityCode
		attributes["birthDate"] = result.Identity.BirthDate
	}

	if result.Summary != nil {
		if result.Summary.Nationality != nil {
			attributes["nationality"] = *result.Summary.Nationality
		}
		if result.Summary.Age != nil {
			attributes["age"] = strconv.Itoa(*result.Summary.Age)
		}
	}

	return attributes
}

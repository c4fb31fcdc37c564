package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Version prefixes every fingerprint so the derivation can change without
// colliding with keys written by an older policy.
const Version = "v1"

// ErrInsufficientIdentity means a row carries too little to identify it.
var ErrInsufficientIdentity = errors.New("row has no identifying fields")

// Fields are the raw identity columns of a lead row.
type Fields struct {
	CompanyName string
	Domain      string
	Email       string
	Phone       string
	Address     string
	City        string
	State       string
	Country     string
}

// Key returns the canonical identity key for f.
//
// In order of preference:
//
//	d:<domain>|c:<email or phone>      a contact at a company
//	n:<name>|a:<address,city,state,country>
//	d:<domain>|n:<name>
//	n:<name>|c:<phone>
//
// When the domain is missing it is taken from the email host.
func (n *Normalizer) Key(f Fields) (string, error) {
	name := n.Name(f.CompanyName)
	domain := n.Domain(f.Domain)
	email := n.Email(f.Email)
	phone := n.Phone(f.Phone)
	if domain == "" && email != "" {
		domain = email[strings.LastIndex(email, "@")+1:]
	}
	contact := email
	if contact == "" {
		contact = phone
	}

	switch {
	case domain != "" && contact != "":
		return "d:" + domain + "|c:" + contact, nil
	case name != "" && n.Text(f.City) != "" && n.Text(f.Country) != "":
		addr := strings.Join([]string{
			n.Text(f.Address), n.Text(f.City), n.Text(f.State), n.Text(f.Country),
		}, ",")
		return "n:" + name + "|a:" + addr, nil
	case domain != "" && name != "":
		return "d:" + domain + "|n:" + name, nil
	case name != "" && phone != "":
		return "n:" + name + "|c:" + phone, nil
	}
	return "", ErrInsufficientIdentity
}

// Fingerprint hashes the identity key of f into a fixed-width string.
func (n *Normalizer) Fingerprint(f Fields) (string, error) {
	key, err := n.Key(f)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(key))
	return Version + ":" + hex.EncodeToString(sum[:]), nil
}

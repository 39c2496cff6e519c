package rcc

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"

	"github.com/pkgcore/pkgcore/pkg/corectx"
	"github.com/pkgcore/pkgcore/pkgerr"
)

// verifySignature checks a fetched catalogue document against the
// repository's configured signature mode (spec §4.5: "verify signature per
// mode"). raw is the clearsigned document as fetched from the mirror; the
// returned bytes are the inner (signed) content, with the clearsign framing
// stripped, ready for digest comparison.
//
// Grounded on signBytes/extractPublicKey in deb/util.go, which produce and
// consume this same clearsign.Encode/openpgp.ReadArmoredKeyRing pairing on
// the publishing side; verification here is the mirror-image read path.
func verifySignature(repo corectx.Repository, raw []byte) ([]byte, error) {
	switch repo.Signature {
	case corectx.SignatureNone, "":
		return raw, nil
	case corectx.SignaturePubkey:
		_, plain, err := verifyClearsigned(raw, repo.PubKeyPEM)
		return plain, err
	case corectx.SignatureFingerprint:
		return verifyFingerprint(raw, repo.PubKeyPEM, repo.Trusted, repo.Revoked)
	default:
		return nil, pkgerr.New(pkgerr.Config, fmt.Sprintf("rcc: unknown signature mode %q for repository %s", repo.Signature, repo.Name), nil)
	}
}

// verifyClearsigned checks raw against pubKeyPEM and returns the signing
// entity alongside the recovered plaintext, so fingerprint mode can reuse
// the same check and inspect whose key actually signed the document.
func verifyClearsigned(raw []byte, pubKeyPEM string) (*openpgp.Entity, []byte, error) {
	if pubKeyPEM == "" {
		return nil, nil, pkgerr.New(pkgerr.Config, "rcc: signature verification requires a configured public key", nil)
	}
	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(pubKeyPEM))
	if err != nil {
		return nil, nil, pkgerr.New(pkgerr.Config, "rcc: parsing configured public key", err)
	}

	block, _ := clearsign.Decode(raw)
	if block == nil {
		return nil, nil, pkgerr.New(pkgerr.Corrupt, "rcc: catalogue document is not clearsigned", nil)
	}
	signer, err := openpgp.CheckDetachedSignature(keyring, bytes.NewReader(block.Bytes), block.ArmoredSignature.Body, nil)
	if err != nil {
		return nil, nil, pkgerr.New(pkgerr.Corrupt, "rcc: catalogue signature verification failed", err)
	}
	return signer, block.Plaintext, nil
}

// verifyFingerprint additionally requires the signing key's fingerprint to
// appear in trusted and not in revoked, for deployments that pin repository
// trust to a key fingerprint (e.g. distributed out-of-band) rather than
// trusting whatever key ships alongside the catalogue.
func verifyFingerprint(raw []byte, pubKeyPEM string, trusted, revoked []string) ([]byte, error) {
	signer, plain, err := verifyClearsigned(raw, pubKeyPEM)
	if err != nil {
		return nil, err
	}
	fp := hex.EncodeToString(signer.PrimaryKey.Fingerprint[:])
	for _, r := range revoked {
		if strings.EqualFold(r, fp) {
			return nil, pkgerr.New(pkgerr.Corrupt, "rcc: signing key fingerprint is revoked", nil)
		}
	}
	for _, t := range trusted {
		if strings.EqualFold(t, fp) {
			return plain, nil
		}
	}
	return nil, pkgerr.New(pkgerr.Corrupt, "rcc: signing key fingerprint is not in the trusted set", nil)
}

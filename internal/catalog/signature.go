package catalog

import (
	"log/slog"
	"os"

	"github.com/ProtonMail/gopenpgp/v3/crypto"
	"github.com/cockroachdb/errors"
)

// VerifySignature checks the armored detached PGP signature at sigPath
// over the raw (still compressed) manifest file at manifestPath, using the
// armored public key at keyPath.
func VerifySignature(manifestPath, sigPath, keyPath string) error {
	keyBytes, err := os.ReadFile(keyPath) // #nosec G304 - key path comes from validated config
	if err != nil {
		return errors.Wrapf(err, "failed to read PGP key from: %s", keyPath)
	}
	publicKey, err := crypto.NewKeyFromArmored(string(keyBytes))
	if err != nil {
		return errors.Wrapf(err, "failed to parse PGP key from: %s", keyPath)
	}

	data, err := os.ReadFile(manifestPath) // #nosec G304 - manifest path is operator supplied
	if err != nil {
		return errors.Wrapf(err, "failed to read manifest: %s", manifestPath)
	}
	sig, err := os.ReadFile(sigPath) // #nosec G304 - signature path comes from validated config
	if err != nil {
		return errors.Wrapf(err, "failed to read manifest signature: %s", sigPath)
	}

	verifier, err := crypto.PGP().Verify().VerificationKey(publicKey).New()
	if err != nil {
		return errors.Wrap(err, "failed to create verifier")
	}

	result, err := verifier.VerifyDetached(data, sig, crypto.Armor)
	if err != nil {
		return errors.Wrapf(err, "PGP signature verification failed for manifest %s", manifestPath)
	}
	if sigErr := result.SignatureError(); sigErr != nil {
		return errors.Wrapf(sigErr, "PGP signature verification failed for manifest %s", manifestPath)
	}

	slog.Info("PGP signature for manifest is valid", "manifest", manifestPath, "key_id", publicKey.GetHexKeyID())
	return nil
}

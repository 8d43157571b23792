package cred

// Bundle holds the three credentials needed for a mutually authenticated
// connection. Any field may be empty when the corresponding file is absent.
type Bundle struct {
	// CACert is the PEM-encoded CA certificate (trust anchor).
	CACert []byte

	// ClientCert is the PEM-encoded signed client certificate.
	ClientCert []byte

	// PrivateKey is the PEM-encoded client private key.
	PrivateKey []byte
}

// Complete reports whether all three credentials are present and non-empty.
// Only a complete bundle permits a secure connect attempt.
func (b *Bundle) Complete() bool {
	return len(b.CACert) > 0 && len(b.ClientCert) > 0 && len(b.PrivateKey) > 0
}

// LoadBundle reads the credential bundle from the store. It is called on
// every bootstrap decision rather than cached, so credentials updated by the
// desktop tool behind the agent's back are picked up on the next attempt.
// Missing files load as empty fields, not errors.
func LoadBundle(store Store) (*Bundle, error) {
	ca, err := store.ReadAll(CAFileName)
	if err != nil {
		return nil, err
	}
	cert, err := store.ReadAll(ClientCertFileName)
	if err != nil {
		return nil, err
	}
	key, err := store.ReadAll(PrivateKeyFileName)
	if err != nil {
		return nil, err
	}
	return &Bundle{CACert: ca, ClientCert: cert, PrivateKey: key}, nil
}

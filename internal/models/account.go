package models

// Account is the single per-device account: the username it was registered
// under, the server it syncs against, the id of the account's root folder and
// the PEM-encoded RSA keypair. The keypair never leaves the device except
// inside a passphrase-encrypted export string.
type Account struct {
	Username      string `json:"username"`
	ServerURL     string `json:"server_url"`
	RootID        string `json:"root_id"`
	PrivateKeyPEM []byte `json:"private_key_pem"`
}

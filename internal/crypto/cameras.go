package crypto

// RTSPURLCodec adapts a Keyring to the func(cameraID, value string) (string,
// error) shape internal/camera expects for its encrypt/decrypt callbacks.
// The camera_id is bound in as AAD so a sealed RTSP URL can't be copied
// from one camera's row to another's without the GCM tag failing to
// verify — the ciphertext column alone isn't enough to reconstruct a
// working camera entry.
type RTSPURLCodec struct {
	kr *Keyring
}

func NewRTSPURLCodec(kr *Keyring) *RTSPURLCodec {
	return &RTSPURLCodec{kr: kr}
}

func (c *RTSPURLCodec) Encrypt(cameraID, plain string) (string, error) {
	return c.kr.EncryptString(plain, []byte(cameraID))
}

func (c *RTSPURLCodec) Decrypt(cameraID, cipher string) (string, error) {
	return c.kr.DecryptString(cipher, []byte(cameraID))
}

// Package crypt provides the symmetric ciphers and the asymmetric key
// exchange used by sessions.
//
// Ciphers are selected by name through NewCipher:
//
//	fernet  authenticated, timestamped fernet tokens
//	aes     AES-CBC, PKCS#7, base64(iv || ciphertext)
//
// Key exchangers are selected through NewExchanger; "rsa" (RSA-2048,
// OAEP-SHA256, PEM SPKI public keys) is the only scheme. Its block limit is
// small, so it only ever carries a symmetric key.
//
// Unknown names are configuration errors. Every operational failure is an
// errs.KindCrypto error.
package crypt

package malja

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	certFile = "malja_cert.pem" // Certificate File Name
	keyFile  = "malja_key.pem"  // Private Key File Name
)

// getSPKIHash returns the base64 encoded SHA-256 hash of the certificate's Subject Public Key Info
func getSPKIHash(cert *x509.Certificate) string {
	spkiHash := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return base64.StdEncoding.EncodeToString(spkiHash[:])
}

func writePEM(path string, blockType string, der []byte, perm os.FileMode) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("opening %s for writing : %w", path, err)
	}
	defer out.Close()
	if err := pem.Encode(out, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		return fmt.Errorf("writing %s : %w", path, err)
	}
	return nil
}

func readPEM(path string, blockType string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s : %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != blockType {
		return nil, fmt.Errorf("decoding %s PEM block from %s", blockType, path)
	}
	return block.Bytes, nil
}

func saveCertAndKey(cert *x509.Certificate, priv any, configDir string) error {
	if err := writePEM(filepath.Join(configDir, certFile), "CERTIFICATE", cert.Raw, 0644); err != nil {
		return err
	}
	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("marshalling private key : %w", err)
	}
	return writePEM(filepath.Join(configDir, keyFile), "PRIVATE KEY", privBytes, 0600)
}

func loadCertAndKey(configDir string) (*x509.Certificate, any, error) {
	certDer, err := readPEM(filepath.Join(configDir, certFile), "CERTIFICATE")
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(certDer)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing certificate : %w", err)
	}

	keyDer, err := readPEM(filepath.Join(configDir, keyFile), "PRIVATE KEY")
	if err != nil {
		return nil, nil, err
	}
	priv, err := x509.ParsePKCS8PrivateKey(keyDer)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing private key : %w", err)
	}
	return cert, priv, nil
}

// certExists reports whether the certificate file is present in configDir
func certExists(configDir string) (bool, error) {
	_, err := os.Stat(filepath.Join(configDir, certFile))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("checking certificate : %w", err)
}

package db

import (
	"fmt"

	"github.com/tfkr-ae/malja/domain"
)

var _ domain.ConfigRepository = (*Repository)(nil)

// UpdateSPKI stores the SPKI hash of the proxy certificate in the single app row.
func (repo *Repository) UpdateSPKI(spki string) error {
	if _, err := repo.dbConn.Exec(`UPDATE app SET spki = ? WHERE id = 1`, spki); err != nil {
		return fmt.Errorf("storing spki %q : %w", spki, err)
	}
	return nil
}

// GetSPKI returns the stored SPKI hash, empty when no certificate was generated yet.
func (repo *Repository) GetSPKI() (string, error) {
	var spki string
	if err := repo.dbConn.Get(&spki, `SELECT spki FROM app WHERE id = 1`); err != nil {
		return "", fmt.Errorf("reading spki : %w", err)
	}
	return spki, nil
}

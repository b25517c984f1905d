package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mhuici/tamarindo-reports-sub000/internal/db/models"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("data source not found")
	ErrNoCredentials = errors.New("data source has no stored credentials")
)

// Vault reads and writes sealed bundles on DataSource rows.
type Vault struct {
	db  *gorm.DB
	enc *Encryptor
}

// New returns a vault over db using enc.
func New(db *gorm.DB, enc *Encryptor) *Vault {
	return &Vault{db: db, enc: enc}
}

// GetEncrypted returns the sealed credential bytes of a data source.
func (v *Vault) GetEncrypted(ctx context.Context, dataSourceID string) ([]byte, error) {
	var ds models.DataSource
	err := v.db.WithContext(ctx).Select("id", "credentials").Where("id = ?", dataSourceID).First(&ds).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(ds.Credentials) == 0 {
		return nil, ErrNoCredentials
	}
	return ds.Credentials, nil
}

// PutEncrypted replaces the sealed credential bytes of a data source.
func (v *Vault) PutEncrypted(ctx context.Context, dataSourceID string, data []byte) error {
	res := v.db.WithContext(ctx).Model(&models.DataSource{}).
		Where("id = ?", dataSourceID).
		Update("credentials", data)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get decrypts and decodes the bundle of a data source.
func (v *Vault) Get(ctx context.Context, dataSourceID string) (TokenBundle, error) {
	data, err := v.GetEncrypted(ctx, dataSourceID)
	if err != nil {
		return TokenBundle{}, err
	}
	return v.Open(data)
}

// Put seals bundle and stores it on the data source.
func (v *Vault) Put(ctx context.Context, dataSourceID string, bundle TokenBundle) error {
	data, err := v.Seal(bundle)
	if err != nil {
		return err
	}
	return v.PutEncrypted(ctx, dataSourceID, data)
}

// Seal encodes and encrypts a bundle without storing it.
func (v *Vault) Seal(bundle TokenBundle) ([]byte, error) {
	plain, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}
	return v.enc.Encrypt(plain)
}

// Open decrypts and decodes sealed bundle bytes.
func (v *Vault) Open(data []byte) (TokenBundle, error) {
	plain, err := v.enc.Decrypt(data)
	if err != nil {
		return TokenBundle{}, err
	}
	var b TokenBundle
	if err := json.Unmarshal(plain, &b); err != nil {
		return TokenBundle{}, fmt.Errorf("%w: malformed bundle", ErrDecryptionFailed)
	}
	return b, nil
}

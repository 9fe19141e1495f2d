package repositories

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/planwatch/planwatch-engine/pkg/apperrors"
	"github.com/planwatch/planwatch-engine/pkg/database"
	"github.com/planwatch/planwatch-engine/pkg/models"
)

// AddressRepository is the geocoded address register.
type AddressRepository interface {
	Create(ctx context.Context, address *models.Address) (*models.Address, error)
	Get(ctx context.Context, id int64) (*models.Address, error)
	// Geocode finds the registered address written in free text, such as a
	// case heading ("Laugavegur 12A"). Returns apperrors.ErrNotFound when the
	// text is not an address or the address is unknown.
	Geocode(ctx context.Context, text, municipality string) (*models.Address, error)
}

type addressRepository struct{}

// NewAddressRepository creates a new address repository.
func NewAddressRepository() AddressRepository {
	return &addressRepository{}
}

var _ AddressRepository = (*addressRepository)(nil)

var streetAddress = regexp.MustCompile(`^\s*([^\d,]+?)\s+(\d{1,4})\s*([A-Za-z])?(?:[\s,\-]|$)`)

// ParseStreetAddress splits "Laugavegur 12A" into street, number and letter.
func ParseStreetAddress(text string) (street string, number int, letter string, ok bool) {
	m := streetAddress.FindStringSubmatch(text)
	if m == nil {
		return "", 0, "", false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, "", false
	}
	return strings.TrimSpace(m[1]), n, strings.ToUpper(m[3]), true
}

const addressColumns = `id, street, number, letter, postcode, municipality, lat, lon`

func scanAddress(row pgx.Row) (*models.Address, error) {
	var a models.Address
	if err := row.Scan(&a.ID, &a.Street, &a.Number, &a.Letter, &a.Postcode, &a.Municipality, &a.Lat, &a.Lon); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *addressRepository) Create(ctx context.Context, address *models.Address) (*models.Address, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	a, err := scanAddress(scope.Conn.QueryRow(ctx, `
		INSERT INTO addresses (street, number, letter, postcode, municipality, lat, lon)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+addressColumns,
		address.Street, address.Number, address.Letter, address.Postcode,
		address.Municipality, address.Lat, address.Lon,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create address: %w", err)
	}
	return a, nil
}

func (r *addressRepository) Get(ctx context.Context, id int64) (*models.Address, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	a, err := scanAddress(scope.Conn.QueryRow(ctx, `SELECT `+addressColumns+` FROM addresses WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get address: %w", err)
	}
	return a, nil
}

func (r *addressRepository) Geocode(ctx context.Context, text, municipality string) (*models.Address, error) {
	street, number, letter, ok := ParseStreetAddress(text)
	if !ok {
		return nil, apperrors.ErrNotFound
	}

	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	a, err := scanAddress(scope.Conn.QueryRow(ctx, `
		SELECT `+addressColumns+`
		FROM addresses
		WHERE fold_name(street) = fold_name($1)
		  AND number = $2
		  AND upper(letter) = $3
		  AND ($4 = '' OR fold_name(municipality) = fold_name($4))
		ORDER BY id
		LIMIT 1`,
		street, number, letter, municipality,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to geocode address: %w", err)
	}
	return a, nil
}

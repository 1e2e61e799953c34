package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/magabrotheeeer/billing-sync/internal/models"
)

const uniqueViolation = "23505"

const userColumns = `uid, email, password_hash, plan, billing_customer_id,
			      billing_subscription_id, created_at, updated_at`

// CreateUser сохраняет нового пользователя без тарифа и возвращает его UID.
func (s *Storage) CreateUser(ctx context.Context, email, passwordHash string) (string, error) {
	const op = "storage.CreateUser"

	var uid string
	query := `INSERT INTO users (email, password_hash)
			  VALUES ($1, $2)
			  RETURNING uid`
	err := s.DB.QueryRowContext(ctx, query, email, passwordHash).Scan(&uid)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", fmt.Errorf("%s: %w", op, ErrUserExists)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return uid, nil
}

// GetUser возвращает пользователя по UID.
func (s *Storage) GetUser(ctx context.Context, userUID string) (*models.User, error) {
	const op = "storage.GetUser"
	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE uid = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, userUID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// GetUserByEmail возвращает пользователя по email.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.GetUserByEmail"
	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE email = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, email))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// ActivatePlan безусловно записывает тариф и обе ссылки на провайдера.
// Возвращает число обновлённых строк (0: пользователя нет).
func (s *Storage) ActivatePlan(ctx context.Context, userUID, plan, subscriptionID, customerID string) (int64, error) {
	const op = "storage.ActivatePlan"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET plan = $1,
			      billing_subscription_id = $2,
			      billing_customer_id = $3,
			      updated_at = NOW()
			  WHERE uid = $4`
	res, err := s.DB.ExecContext(ctx, query, plan, subscriptionID, nullString(customerID), userUID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return rows, nil
}

// DeactivatePlan очищает тариф и обе ссылки на провайдера.
func (s *Storage) DeactivatePlan(ctx context.Context, userUID string) (int64, error) {
	const op = "storage.DeactivatePlan"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET plan = NULL,
			      billing_subscription_id = NULL,
			      billing_customer_id = NULL,
			      updated_at = NOW()
			  WHERE uid = $1`
	res, err := s.DB.ExecContext(ctx, query, userUID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return rows, nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var plan, customerID, subscriptionID sql.NullString
	err := row.Scan(&u.UUID, &u.Email, &u.PasswordHash, &plan, &customerID,
		&subscriptionID, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Plan = stringPtr(plan)
	u.BillingCustomerID = stringPtr(customerID)
	u.BillingSubscriptionID = stringPtr(subscriptionID)
	return &u, nil
}

package repos

import (
  "context"
  "errors"
  "time"
  "github.com/google/uuid"
  "gorm.io/gorm"
  "gorm.io/gorm/clause"
  "github.com/shinyadventure/coverletter-backend/internal/platform/logger"
  "github.com/shinyadventure/coverletter-backend/internal/types"
)

type ApplicationRepo interface {
  Create(ctx context.Context, tx *gorm.DB, app *types.Application) (*types.Application, error)
  GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Application, error)
  List(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*types.Application, error)
  UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
  Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
  FullDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error

  // ClaimNextRunnable picks the oldest application eligible for generation:
  // pending, or failed below the attempt budget past the retry delay, or a
  // processing row whose worker stopped heartbeating. The claim marks it
  // processing and increments attempts in one transaction.
  ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay time.Duration, staleProcessing time.Duration) (*types.Application, error)
}

type applicationRepo struct {
  db  *gorm.DB
  log *logger.Logger
}

func NewApplicationRepo(db *gorm.DB, baseLog *logger.Logger) ApplicationRepo {
  repoLog := baseLog.With("repo", "ApplicationRepo")
  return &applicationRepo{db: db, log: repoLog}
}

func (r *applicationRepo) Create(ctx context.Context, tx *gorm.DB, app *types.Application) (*types.Application, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if app == nil {
    return nil, nil
  }
  if err := transaction.WithContext(ctx).Create(app).Error; err != nil {
    return nil, err
  }
  return app, nil
}

func (r *applicationRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Application, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil, nil
  }
  var app types.Application
  err := transaction.WithContext(ctx).
    Where("id = ?", id).
    First(&app).Error
  if errors.Is(err, gorm.ErrRecordNotFound) {
    return nil, nil
  }
  if err != nil {
    return nil, err
  }
  return &app, nil
}

func (r *applicationRepo) List(ctx context.Context, tx *gorm.DB, limit, offset int) ([]*types.Application, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if limit <= 0 {
    limit = 10
  }
  if offset < 0 {
    offset = 0
  }
  var results []*types.Application
  if err := transaction.WithContext(ctx).
    Order("created_at DESC").
    Limit(limit).
    Offset(offset).
    Find(&results).Error; err != nil {
    return nil, err
  }
  return results, nil
}

func (r *applicationRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil
  }
  if updates == nil {
    updates = map[string]interface{}{}
  }
  if _, ok := updates["updated_at"]; !ok {
    updates["updated_at"] = time.Now()
  }
  return transaction.WithContext(ctx).
    Model(&types.Application{}).
    Where("id = ?", id).
    Updates(updates).Error
}

func (r *applicationRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
  return r.UpdateFields(ctx, tx, id, map[string]interface{}{
    "heartbeat_at": time.Now(),
  })
}

func (r *applicationRepo) FullDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }
  if id == uuid.Nil {
    return nil
  }
  return transaction.WithContext(ctx).
    Unscoped().
    Where("id = ?", id).
    Delete(&types.Application{}).Error
}

func (r *applicationRepo) ClaimNextRunnable(
  ctx context.Context,
  tx *gorm.DB,
  maxAttempts int,
  retryDelay time.Duration,
  staleProcessing time.Duration,
) (*types.Application, error) {
  transaction := tx
  if transaction == nil {
    transaction = r.db
  }

  now := time.Now()
  retryCutoff := now.Add(-retryDelay)
  staleCutoff := now.Add(-staleProcessing)

  var claimed *types.Application

  err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
    var app types.Application

    q := txx.
      Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
      Where(`
        (
          status = ?
          OR (
            status = ?
            AND attempts < ?
            AND (last_error_at IS NULL OR last_error_at < ?)
          )
          OR (
            status = ?
            AND attempts < ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, types.ApplicationStatusPending,
        types.ApplicationStatusFailed, maxAttempts, retryCutoff,
        types.ApplicationStatusProcessing, maxAttempts, staleCutoff).
      Order("created_at ASC")

    qErr := q.First(&app).Error
    if errors.Is(qErr, gorm.ErrRecordNotFound) {
      return nil
    }
    if qErr != nil {
      return qErr
    }

    uErr := txx.Model(&types.Application{}).
      Where("id = ?", app.ID).
      Updates(map[string]interface{}{
        "status":       types.ApplicationStatusProcessing,
        "attempts":     gorm.Expr("attempts + 1"),
        "locked_at":    now,
        "heartbeat_at": now,
        "updated_at":   now,
      }).Error
    if uErr != nil {
      return uErr
    }

    claimed = &app
    return nil
  })

  if err != nil {
    return nil, err
  }
  return claimed, nil
}

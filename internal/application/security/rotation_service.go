// Package security implements key rotation and the audit surface around it.
package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lexcore/backend/internal/domain/legal"
	"github.com/lexcore/backend/internal/domain/security"
	"github.com/lexcore/backend/internal/domain/shared"
	"github.com/lexcore/backend/internal/infrastructure/kms"
	"github.com/lexcore/backend/internal/infrastructure/telemetry"
	"github.com/lexcore/backend/internal/infrastructure/tenancy"
)

// RotationConfig holds tuning for key rotation runs
type RotationConfig struct {
	// BatchSize is how many rows each re-encryption batch migrates
	BatchSize int
	// LockTTL is the rotation lock lease; it is refreshed once per batch
	LockTTL time.Duration
	// KeyRetention is how long a deprecated key stays decryptable before it
	// may be scheduled for deletion
	KeyRetention time.Duration
}

// DefaultRotationConfig returns production defaults
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		BatchSize:    500,
		LockTTL:      2 * time.Minute,
		KeyRetention: 30 * 24 * time.Hour,
	}
}

// KeyRotationService rotates a tenant's data encryption key and migrates
// every encrypted row from the old key to the new one.
//
// The run is resumable: each batch persists its cursor, and rows are
// selected by the key id they still reference, so a crashed or failed run
// picks up exactly where it stopped. Both keys stay decryptable for the
// whole run; the old key is deprecated only once no row references it.
type KeyRotationService struct {
	keys     security.KeyRepository
	progress security.RotationProgressRepository
	audit    security.AuditRepository
	clients  legal.ClientRepository
	keyMgr   kms.KeyManager
	lock     security.RotationLock
	config   RotationConfig
	logger   *zap.Logger

	rowsMigrated metric.Int64Counter
	runsFinished metric.Int64Counter
}

// NewKeyRotationService wires a rotation service
func NewKeyRotationService(
	keys security.KeyRepository,
	progress security.RotationProgressRepository,
	audit security.AuditRepository,
	clients legal.ClientRepository,
	keyMgr kms.KeyManager,
	lock security.RotationLock,
	config RotationConfig,
	logger *zap.Logger,
) *KeyRotationService {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultRotationConfig().BatchSize
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultRotationConfig().LockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	meter := otel.Meter("lexcore/rotation")
	rowsMigrated, _ := meter.Int64Counter("rotation.rows_migrated",
		metric.WithDescription("Rows re-encrypted under a new key"))
	runsFinished, _ := meter.Int64Counter("rotation.runs_finished",
		metric.WithDescription("Rotation runs by outcome"))

	return &KeyRotationService{
		keys:         keys,
		progress:     progress,
		audit:        audit,
		clients:      clients,
		keyMgr:       keyMgr,
		lock:         lock,
		config:       config,
		logger:       logger,
		rowsMigrated: rowsMigrated,
		runsFinished: runsFinished,
	}
}

// ProvisionKey creates the first data encryption key for a tenant. It is a
// no-op when the tenant already has an active key.
func (s *KeyRotationService) ProvisionKey(ctx context.Context, tenantID uuid.UUID) (*security.EncryptionKey, error) {
	existing, err := s.keys.FindActive(ctx, tenantID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, shared.ErrNotFoundOrForbidden) {
		return nil, err
	}
	return s.mintKey(ctx, tenantID)
}

// Rotate runs a full key rotation for a tenant. A second Rotate for the
// same tenant while one is running returns ErrRotationInProgress; a tenant
// whose previous run failed resumes it instead of starting a new one.
func (s *KeyRotationService) Rotate(ctx context.Context, tenantID uuid.UUID) (*security.RotationProgress, error) {
	if tenantID == uuid.Nil {
		return nil, shared.ErrInvalidInput
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "rotation", "rotate",
		telemetry.WithAttribute("tenant_id", tenantID.String()))
	defer span.End()

	acquired, err := s.lock.Acquire(ctx, tenantID, s.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire rotation lock: %w", err)
	}
	if !acquired {
		return nil, shared.ErrRotationInProgress
	}
	defer func() {
		if releaseErr := s.lock.Release(context.WithoutCancel(ctx), tenantID); releaseErr != nil {
			s.logger.Warn("failed to release rotation lock",
				zap.String("tenant_id", tenantID.String()), zap.Error(releaseErr))
		}
	}()

	ctx = s.systemContext(ctx, tenantID)

	run, err := s.progress.FindResumable(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		run, err = s.beginRun(ctx, tenantID)
		if err != nil {
			return nil, err
		}
	} else {
		if err := run.Resume(); err != nil {
			return nil, err
		}
		if err := s.progress.Update(ctx, run); err != nil {
			return nil, err
		}
		s.logger.Info("resuming key rotation",
			zap.String("tenant_id", tenantID.String()),
			zap.Int64("rows_already_migrated", run.RowsMigrated))
	}

	var migrateErr error
	telemetry.WithProfilingLabels(ctx, telemetry.OperationLabels("key_rotation", map[string]string{
		telemetry.ProfilingLabelTenantID: tenantID.String(),
	}), func(c context.Context) {
		migrateErr = s.migrate(c, run)
	})
	if migrateErr != nil {
		telemetry.RecordError(span, migrateErr)
		s.failRun(ctx, run, migrateErr)
		return run, migrateErr
	}

	if err := s.finishRun(ctx, run); err != nil {
		telemetry.RecordError(span, err)
		return run, err
	}
	telemetry.SetAttributes(span,
		telemetry.SpanAttrKeyID, run.NewKeyID,
		telemetry.SpanAttrRowCount, run.RowsMigrated,
	)
	telemetry.SetOK(span)
	return run, nil
}

// Resume picks up an unfinished rotation for a tenant, if any. Returns nil
// progress when there is nothing to resume.
func (s *KeyRotationService) Resume(ctx context.Context, tenantID uuid.UUID) (*security.RotationProgress, error) {
	run, err := s.progress.FindResumable(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, nil
	}
	return s.Rotate(ctx, tenantID)
}

// ResumeStalled sweeps every tenant with an unfinished rotation run and
// resumes it. Meant for boot and periodic maintenance; a tenant whose lock is
// held elsewhere is skipped, another instance is already working on it.
func (s *KeyRotationService) ResumeStalled(ctx context.Context) (int, error) {
	tenantIDs, err := s.progress.TenantsWithUnfinishedRuns(ctx)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, tenantID := range tenantIDs {
		if err := ctx.Err(); err != nil {
			return resumed, err
		}
		if _, err := s.Resume(ctx, tenantID); err != nil {
			if errors.Is(err, shared.ErrRotationInProgress) {
				continue
			}
			s.logger.Error("failed to resume stalled rotation",
				zap.String("tenant_id", tenantID.String()), zap.Error(err))
			continue
		}
		resumed++
	}
	return resumed, nil
}

// ScheduleDeprecatedKeyDeletion moves deprecated keys past their retention
// window to SCHEDULED_DELETION. Returns the number of keys scheduled.
func (s *KeyRotationService) ScheduleDeprecatedKeyDeletion(ctx context.Context, tenantID uuid.UUID) (int, error) {
	keys, err := s.keys.FindByTenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	scheduled := 0
	for i := range keys {
		key := &keys[i]
		if key.Status != security.KeyStatusDeprecated {
			continue
		}
		if err := key.ScheduleDeletion(s.config.KeyRetention); err != nil {
			continue
		}
		if err := s.keys.Update(ctx, key); err != nil {
			return scheduled, err
		}
		scheduled++
	}
	return scheduled, nil
}

// beginRun mints the new key and opens the progress record. The new key
// becomes active for new writes immediately; the old key keeps decrypting
// rows not yet migrated.
func (s *KeyRotationService) beginRun(ctx context.Context, tenantID uuid.UUID) (*security.RotationProgress, error) {
	oldKey, err := s.keys.FindActive(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("no active key to rotate: %w", err)
	}

	newKey, err := s.mintKey(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	run, err := security.NewRotationProgress(tenantID, oldKey.ID, newKey.ID, legal.Client{}.TableName())
	if err != nil {
		return nil, err
	}
	if err := s.progress.Save(ctx, run); err != nil {
		return nil, err
	}

	s.recordAudit(ctx, tenantID, fmt.Sprintf("rotation started: key v%d -> v%d", oldKey.Version, newKey.Version))
	s.logger.Info("key rotation started",
		zap.String("tenant_id", tenantID.String()),
		zap.String("old_key_id", oldKey.ID.String()),
		zap.String("new_key_id", newKey.ID.String()))
	return run, nil
}

// migrate walks every row still on the old key and re-encrypts it. Rows are
// selected by key id, so already-migrated rows never reappear and a
// redelivered batch is harmless.
func (s *KeyRotationService) migrate(ctx context.Context, run *security.RotationProgress) error {
	oldCipher, err := s.cipherForKey(ctx, run.TenantID, run.OldKeyID)
	if err != nil {
		return err
	}
	newCipher, err := s.cipherForKey(ctx, run.TenantID, run.NewKeyID)
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.lock.Refresh(ctx, run.TenantID, s.config.LockTTL); err != nil {
			return fmt.Errorf("lost rotation lock: %w", err)
		}

		batch, err := s.clients.FindByKeyID(ctx, run.OldKeyID, run.Cursor, s.config.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to load rotation batch: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		// Batches dominate the CPU profile during a rotation, so label them
		// for Pyroscope.
		var batchErr error
		telemetry.WithProfilingLabels(ctx, telemetry.RegionLabels("reencrypt", map[string]string{
			telemetry.ProfilingLabelTenantID: run.TenantID.String(),
		}), func(c context.Context) {
			for i := range batch {
				client := &batch[i]
				if err := s.reencryptClient(c, client, oldCipher, newCipher, run.NewKeyID); err != nil {
					batchErr = fmt.Errorf("failed to re-encrypt client %s: %w", client.ID, err)
					return
				}
			}
		})
		if batchErr != nil {
			return batchErr
		}

		last := batch[len(batch)-1].ID
		if err := run.AdvanceCursor(last, int64(len(batch))); err != nil {
			return err
		}
		if err := s.progress.Update(ctx, run); err != nil {
			return fmt.Errorf("failed to persist rotation cursor: %w", err)
		}

		s.rowsMigrated.Add(ctx, int64(len(batch)),
			metric.WithAttributes(attribute.String("table", run.TableName_)))
		telemetry.AddEvent(trace.SpanFromContext(ctx), "batch_reencrypted",
			"batch_rows", len(batch),
			telemetry.SpanAttrRowCount, run.RowsMigrated,
		)
		s.logger.Debug("rotation batch committed",
			zap.String("tenant_id", run.TenantID.String()),
			zap.Int("batch_rows", len(batch)),
			zap.Int64("total_rows", run.RowsMigrated))
	}
}

func (s *KeyRotationService) reencryptClient(ctx context.Context, client *legal.Client, oldCipher, newCipher *kms.FieldCipher, newKeyID uuid.UUID) error {
	email, err := oldCipher.Decrypt(client.EmailCipher)
	if err != nil {
		return err
	}
	phone, err := oldCipher.Decrypt(client.PhoneCipher)
	if err != nil {
		return err
	}

	emailCipher, err := newCipher.Encrypt(email)
	if err != nil {
		return err
	}
	phoneCipher, err := newCipher.Encrypt(phone)
	if err != nil {
		return err
	}

	if err := client.SetEncryptedContact(emailCipher, phoneCipher, newKeyID); err != nil {
		return err
	}
	return s.clients.Update(ctx, client)
}

// finishRun verifies no row still references the old key, completes the
// progress record and deprecates the old key.
func (s *KeyRotationService) finishRun(ctx context.Context, run *security.RotationProgress) error {
	remaining, err := s.clients.CountByKeyID(ctx, run.OldKeyID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		err := fmt.Errorf("%d rows still reference the old key after migration", remaining)
		s.failRun(ctx, run, err)
		return err
	}

	if err := run.Complete(); err != nil {
		return err
	}
	if err := s.progress.Update(ctx, run); err != nil {
		return err
	}

	oldKey, err := s.keys.FindByID(ctx, run.OldKeyID)
	if err != nil {
		return err
	}
	if err := oldKey.Deprecate(); err == nil {
		if err := s.keys.Update(ctx, oldKey); err != nil {
			return err
		}
	}

	s.runsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "completed")))
	s.recordAudit(ctx, run.TenantID, fmt.Sprintf("rotation completed: %d rows migrated", run.RowsMigrated))
	s.logger.Info("key rotation completed",
		zap.String("tenant_id", run.TenantID.String()),
		zap.Int64("rows_migrated", run.RowsMigrated))
	return nil
}

// failRun records the failure. Cursor and both keys stay as they are, so
// the run resumes from the last committed batch.
func (s *KeyRotationService) failRun(ctx context.Context, run *security.RotationProgress, cause error) {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		ctx = context.WithoutCancel(ctx)
	}

	if err := run.Fail(cause); err != nil {
		return
	}
	if err := s.progress.Update(ctx, run); err != nil {
		s.logger.Error("failed to persist rotation failure",
			zap.String("tenant_id", run.TenantID.String()), zap.Error(err))
	}

	s.runsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
	s.logger.Error("key rotation failed, run is resumable",
		zap.String("tenant_id", run.TenantID.String()),
		zap.Int64("rows_migrated", run.RowsMigrated),
		zap.Error(cause))
}

// mintKey generates a wrapped DEK and stores it as the tenant's newest key
func (s *KeyRotationService) mintKey(ctx context.Context, tenantID uuid.UUID) (*security.EncryptionKey, error) {
	dk, err := s.keyMgr.GenerateDataKey(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	version, err := s.keys.MaxVersion(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	key, err := security.NewEncryptionKey(tenantID, version+1, dk.Wrapped)
	if err != nil {
		return nil, err
	}
	if err := s.keys.Save(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

// cipherForKey unwraps a stored key and builds a field cipher over it
func (s *KeyRotationService) cipherForKey(ctx context.Context, tenantID, keyID uuid.UUID) (*kms.FieldCipher, error) {
	key, err := s.keys.FindByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if !key.IsDecryptable() {
		return nil, shared.NewDomainError("KEY_NOT_DECRYPTABLE", "Key is scheduled for deletion")
	}

	dek, err := s.keyMgr.UnwrapDataKey(ctx, tenantID, key.WrappedDEK)
	if err != nil {
		return nil, err
	}
	return kms.NewFieldCipher(dek)
}

// systemContext pins the worker to the tenant being rotated
func (s *KeyRotationService) systemContext(ctx context.Context, tenantID uuid.UUID) context.Context {
	return tenancy.WithContext(ctx, tenancy.Context{
		TenantID: tenantID,
		Role:     tenancy.RoleSystem,
	})
}

func (s *KeyRotationService) recordAudit(ctx context.Context, tenantID uuid.UUID, detail string) {
	record, err := security.NewAuditRecord(tenantID, tenantID, uuid.Nil, security.AuditActionKeyRotation, detail)
	if err != nil {
		return
	}
	if err := s.audit.Append(ctx, record); err != nil {
		s.logger.Warn("failed to append rotation audit record",
			zap.String("tenant_id", tenantID.String()), zap.Error(err))
	}
}

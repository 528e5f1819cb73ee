package services

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"

	"stockledger/server/internal/ledger"
	"stockledger/server/internal/models"
	"stockledger/server/internal/quantity"
)

const reconcileLockKey = "lock:stock-reconcile"

// ReconcileService сверяет остатки с журналом: current = initial + Σ движений.
// Ничего не исправляет, только сообщает о расхождениях.
type ReconcileService struct {
	store  ledger.Reader
	locker *redislock.Client
	log    *logrus.Logger
}

// NewReconcileService locker может быть nil (один экземпляр, без Redis)
func NewReconcileService(store ledger.Reader, locker *redislock.Client, log *logrus.Logger) *ReconcileService {
	return &ReconcileService{store: store, locker: locker, log: log}
}

type Discrepancy struct {
	IngredientID   uint              `json:"ingredient_id"`
	IngredientName string            `json:"ingredient_name"`
	InitialStock   quantity.Quantity `json:"initial_stock"`
	MovementsSum   quantity.Quantity `json:"movements_sum"`
	Expected       quantity.Quantity `json:"expected_stock"`
	Actual         quantity.Quantity `json:"current_stock"`
}

type ReconcileReport struct {
	CheckedAt     time.Time     `json:"checked_at"`
	Ingredients   int           `json:"ingredients"`
	Movements     int           `json:"movements"`
	Discrepancies []Discrepancy `json:"discrepancies"`
}

// OK расхождений нет
func (r *ReconcileReport) OK() bool { return len(r.Discrepancies) == 0 }

// Reconcile чтения остатков и журнала не атомарны между собой, поэтому
// расхождение подтверждается повторным проходом
func (s *ReconcileService) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	first, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	if first.OK() {
		return first, nil
	}

	second, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	suspects := make(map[uint]Discrepancy, len(first.Discrepancies))
	for _, d := range first.Discrepancies {
		suspects[d.IngredientID] = d
	}
	confirmed := make([]Discrepancy, 0, len(second.Discrepancies))
	for _, d := range second.Discrepancies {
		if prev, ok := suspects[d.IngredientID]; ok && prev.Actual.Equal(d.Actual) && prev.MovementsSum.Equal(d.MovementsSum) {
			confirmed = append(confirmed, d)
		}
	}
	second.Discrepancies = confirmed
	return second, nil
}

func (s *ReconcileService) scan(ctx context.Context) (*ReconcileReport, error) {
	ingredients, err := s.store.ListIngredients(ctx)
	if err != nil {
		return nil, err
	}
	movements, err := s.store.ListMovements(ctx, ledger.MovementFilter{})
	if err != nil {
		return nil, err
	}

	sums := make(map[uint]quantity.Quantity, len(ingredients))
	for _, m := range movements {
		sums[m.IngredientID] = sums[m.IngredientID].Add(m.Signed())
	}

	report := &ReconcileReport{
		CheckedAt:     time.Now().UTC(),
		Ingredients:   len(ingredients),
		Movements:     len(movements),
		Discrepancies: []Discrepancy{},
	}
	for _, ing := range ingredients {
		report.Discrepancies = appendIfDiverged(report.Discrepancies, ing, sums[ing.ID])
	}
	return report, nil
}

func appendIfDiverged(list []Discrepancy, ing models.Ingredient, sum quantity.Quantity) []Discrepancy {
	expected := ing.InitialStock.Add(sum)
	if expected.Equal(ing.CurrentStock) {
		return list
	}
	return append(list, Discrepancy{
		IngredientID:   ing.ID,
		IngredientName: ing.Name,
		InitialStock:   ing.InitialStock,
		MovementsSum:   sum,
		Expected:       expected,
		Actual:         ing.CurrentStock,
	})
}

// RunPeriodic сверка по тикеру до отмены ctx. С Redis сверку выполняет
// только экземпляр, получивший lock:stock-reconcile
func (s *ReconcileService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.log.Info("ℹ️ Периодическая сверка остатков отключена")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Infof("🔎 Периодическая сверка остатков запущена (интервал %s)", interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("🛑 Периодическая сверка остатков остановлена")
			return
		case <-ticker.C:
			s.runOnce(ctx, interval)
		}
	}
}

func (s *ReconcileService) runOnce(ctx context.Context, interval time.Duration) {
	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, reconcileLockKey, interval, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			s.log.Debug("Сверка уже выполняется другим экземпляром")
			return
		}
		if err != nil {
			s.log.Warnf("⚠️ Redis: не удалось получить блокировку сверки, выполняем без нее: %v", err)
		} else {
			defer func() {
				if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
					s.log.Warnf("⚠️ Redis: не удалось снять блокировку сверки: %v", err)
				}
			}()
		}
	}

	report, err := s.Reconcile(ctx)
	if err != nil {
		s.log.WithError(err).Error("❌ Ошибка сверки остатков")
		return
	}
	if report.OK() {
		s.log.WithFields(logrus.Fields{
			"ingredients": report.Ingredients,
			"movements":   report.Movements,
		}).Info("✅ Сверка остатков: расхождений нет")
		return
	}
	for _, d := range report.Discrepancies {
		s.log.WithFields(logrus.Fields{
			"ingredient_id": d.IngredientID,
			"ingredient":    d.IngredientName,
			"expected":      d.Expected.String(),
			"actual":        d.Actual.String(),
		}).Error("❌ Остаток расходится с журналом движений")
	}
}

package queue

import (
	"errors"

	"waitline/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EntryRepo — коллаборатор персистентности диспетчера. Контракт: запись
// сохраняется до того, как уходит какое-либо уведомление о её изменении.
// Интерфейс внедряется в диспетчер явно, что позволяет подменять его
// in-memory реализацией в тестах.
type EntryRepo interface {
	Create(e *models.QueueEntry) error
	Load(id uint) (*models.QueueEntry, error)
	// LoadWaiting возвращает ожидающих гостей очереди в порядке позиций.
	LoadWaiting(queueID uint) ([]models.QueueEntry, error)
	// LoadCalled возвращает приглашённых гостей очереди (окно подтверждения открыто).
	LoadCalled(queueID uint) ([]models.QueueEntry, error)
	// ActiveCodes возвращает коды подтверждения всех приглашённых гостей очереди.
	ActiveCodes(queueID uint) (map[string]struct{}, error)
	// FindActiveBySession ищет активную (waiting/called) запись гостя с данным
	// токеном сессии в очереди — для идемпотентного повторного вступления.
	FindActiveBySession(queueID uint, token string) (*models.QueueEntry, error)
	// SavePositions сохраняет пересчитанные позиции ожидающих.
	SavePositions(positions map[uint]int) error
	// UpdateIf атомарно применяет mutate к записи, если cond истинно
	// (compare-and-set). Возвращает итоговую запись и признак победы: при
	// конкурентных переходах (подтверждение против таймаута, двойной вызов)
	// выигрывает ровно одна сторона.
	UpdateIf(id uint, cond func(e *models.QueueEntry) bool, mutate func(e *models.QueueEntry)) (*models.QueueEntry, bool, error)
}

// Policy — коллаборатор бизнес-политики очереди: открыта ли очередь,
// кому она принадлежит, как называется.
type Policy interface {
	QueueInfo(queueID uint) (*models.Queue, error)
}

// GormRepo — реализация EntryRepo поверх gorm/postgres.
type GormRepo struct {
	db *gorm.DB
}

func NewGormRepo(db *gorm.DB) *GormRepo {
	return &GormRepo{db: db}
}

func (r *GormRepo) Create(e *models.QueueEntry) error {
	return r.db.Create(e).Error
}

func (r *GormRepo) Load(id uint) (*models.QueueEntry, error) {
	var e models.QueueEntry
	if err := r.db.First(&e, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *GormRepo) LoadWaiting(queueID uint) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	err := r.db.
		Where("queue_id = ? AND status = ?", queueID, models.StatusWaiting).
		Order("position ASC").
		Find(&entries).Error
	return entries, err
}

func (r *GormRepo) LoadCalled(queueID uint) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	err := r.db.
		Where("queue_id = ? AND status = ?", queueID, models.StatusCalled).
		Order("called_at ASC").
		Find(&entries).Error
	return entries, err
}

func (r *GormRepo) ActiveCodes(queueID uint) (map[string]struct{}, error) {
	var codes []string
	err := r.db.Model(&models.QueueEntry{}).
		Where("queue_id = ? AND status = ? AND verification_code IS NOT NULL", queueID, models.StatusCalled).
		Pluck("verification_code", &codes).Error
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set, nil
}

func (r *GormRepo) FindActiveBySession(queueID uint, token string) (*models.QueueEntry, error) {
	var e models.QueueEntry
	err := r.db.
		Where("queue_id = ? AND session_token = ? AND status IN ?",
			queueID, token, []string{models.StatusWaiting, models.StatusCalled}).
		First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (r *GormRepo) SavePositions(positions map[uint]int) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		for id, pos := range positions {
			if err := tx.Model(&models.QueueEntry{}).Where("id = ?", id).
				Update("position", pos).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *GormRepo) UpdateIf(id uint, cond func(e *models.QueueEntry) bool, mutate func(e *models.QueueEntry)) (*models.QueueEntry, bool, error) {
	var result models.QueueEntry
	won := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var e models.QueueEntry
		// Блокируем строку на время проверки и обновления: проигравшая сторона
		// гонки увидит уже применённый переход и не пройдёт cond.
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&e, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrEntryNotFound
			}
			return err
		}
		if !cond(&e) {
			result = e
			return nil
		}
		mutate(&e)
		if err := tx.Save(&e).Error; err != nil {
			return err
		}
		result = e
		won = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &result, won, nil
}

// GormPolicy — реализация Policy поверх gorm.
type GormPolicy struct {
	db *gorm.DB
}

func NewGormPolicy(db *gorm.DB) *GormPolicy {
	return &GormPolicy{db: db}
}

func (p *GormPolicy) QueueInfo(queueID uint) (*models.Queue, error) {
	var q models.Queue
	if err := p.db.First(&q, queueID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQueueNotFound
		}
		return nil, err
	}
	return &q, nil
}

package gateway

import (
	"context"
	"errors"
	"fmt"

	"faltas_go/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

// SubstituteFilter narrows roster queries.
type SubstituteFilter struct {
	Unit            string
	IncludeInactive bool
}

// LeaveFilter narrows leave queries. Date selects leaves covering that day.
type LeaveFilter struct {
	TeacherID string
	Status    models.LeaveStatus
	Date      *models.Date
}

// Gateway is the thin wrapper over the relational database. Every successful
// write is announced on the change feed.
type Gateway struct {
	db   *gorm.DB
	feed Feed
}

func New(db *gorm.DB, feed Feed) *Gateway {
	if feed == nil {
		feed = NewLocalFeed()
	}
	return &Gateway{db: db, feed: feed}
}

// Feed returns the change feed writes are published on.
func (g *Gateway) Feed() Feed {
	return g.feed
}

// DB exposes the underlying handle for health probes.
func (g *Gateway) DB() *gorm.DB {
	return g.db
}

func (g *Gateway) publish(ctx context.Context, table, op, id string) {
	if err := g.feed.Publish(ctx, Change{Table: table, Op: op, ID: id}); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"table": table, "op": op, "id": id}).
			Warn("failed to publish change event")
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func rangeLimit(start, end int) int {
	if end < start {
		return 0
	}
	return end - start + 1
}

// ── Departments ──

func (g *Gateway) ListDepartments(ctx context.Context) ([]models.Department, error) {
	var departments []models.Department
	if err := g.db.WithContext(ctx).Find(&departments).Error; err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	return departments, nil
}

// ── Teachers ──

func (g *Gateway) RangeTeachers(ctx context.Context, start, end int) ([]models.Teacher, error) {
	var teachers []models.Teacher
	err := g.db.WithContext(ctx).
		Preload("Department").
		Offset(start).
		Limit(rangeLimit(start, end)).
		Find(&teachers).Error
	if err != nil {
		return nil, fmt.Errorf("range teachers: %w", err)
	}
	return teachers, nil
}

func (g *Gateway) InsertTeacher(ctx context.Context, teacher *models.Teacher) error {
	if err := g.db.WithContext(ctx).Omit("Department").Create(teacher).Error; err != nil {
		return fmt.Errorf("insert teacher: %w", err)
	}
	g.publish(ctx, TableTeachers, OpInsert, teacher.ID)
	return nil
}

// ── Substitutes ──

func (g *Gateway) ListSubstitutes(ctx context.Context, filter SubstituteFilter) ([]models.Substitute, error) {
	query := g.db.WithContext(ctx).Model(&models.Substitute{})
	if !filter.IncludeInactive {
		query = query.Where("active = ?", true)
	}
	if filter.Unit != "" {
		query = query.Where("unit = ?", filter.Unit)
	}

	var substitutes []models.Substitute
	if err := query.Order("name").Find(&substitutes).Error; err != nil {
		return nil, fmt.Errorf("list substitutes: %w", err)
	}
	return substitutes, nil
}

func (g *Gateway) GetSubstitute(ctx context.Context, id string) (*models.Substitute, error) {
	var substitute models.Substitute
	if err := g.db.WithContext(ctx).First(&substitute, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &substitute, nil
}

func (g *Gateway) InsertSubstitute(ctx context.Context, substitute *models.Substitute) error {
	if err := g.db.WithContext(ctx).Create(substitute).Error; err != nil {
		return fmt.Errorf("insert substitute: %w", err)
	}
	g.publish(ctx, TableSubstitutes, OpInsert, substitute.ID)
	return nil
}

// ── Absences ──

func (g *Gateway) absenceQuery(ctx context.Context) *gorm.DB {
	return g.db.WithContext(ctx).
		Preload("Teacher").
		Preload("Teacher.Department").
		Preload("Substitute")
}

func (g *Gateway) RangeAbsences(ctx context.Context, start, end int) ([]models.Absence, error) {
	var absences []models.Absence
	err := g.absenceQuery(ctx).
		Offset(start).
		Limit(rangeLimit(start, end)).
		Find(&absences).Error
	if err != nil {
		return nil, fmt.Errorf("range absences: %w", err)
	}
	return absences, nil
}

func (g *Gateway) GetAbsence(ctx context.Context, id string) (*models.Absence, error) {
	var absence models.Absence
	if err := g.absenceQuery(ctx).First(&absence, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &absence, nil
}

func (g *Gateway) InsertAbsence(ctx context.Context, absence *models.Absence) error {
	if err := g.db.WithContext(ctx).Omit("Teacher", "Substitute").Create(absence).Error; err != nil {
		return fmt.Errorf("insert absence: %w", err)
	}
	g.publish(ctx, TableAbsences, OpInsert, absence.ID)
	return nil
}

func (g *Gateway) UpdateAbsence(ctx context.Context, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	err := g.db.WithContext(ctx).Model(&models.Absence{}).Where("id = ?", id).Updates(fields).Error
	if err != nil {
		return fmt.Errorf("update absence %s: %w", id, err)
	}
	g.publish(ctx, TableAbsences, OpUpdate, id)
	return nil
}

func (g *Gateway) DeleteAbsence(ctx context.Context, id string) error {
	if err := g.db.WithContext(ctx).Delete(&models.Absence{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete absence %s: %w", id, err)
	}
	g.publish(ctx, TableAbsences, OpDelete, id)
	return nil
}

// ── Leaves ──

func (g *Gateway) ListLeaves(ctx context.Context, filter LeaveFilter) ([]models.Leave, error) {
	query := g.db.WithContext(ctx).Preload("Teacher").Model(&models.Leave{})
	if filter.TeacherID != "" {
		query = query.Where("teacher_id = ?", filter.TeacherID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Date != nil {
		query = query.Where("start_date <= ? AND end_date >= ?", *filter.Date, *filter.Date)
	}

	var leaves []models.Leave
	if err := query.Order("start_date DESC").Find(&leaves).Error; err != nil {
		return nil, fmt.Errorf("list leaves: %w", err)
	}
	return leaves, nil
}

func (g *Gateway) GetLeave(ctx context.Context, id string) (*models.Leave, error) {
	var leave models.Leave
	if err := g.db.WithContext(ctx).Preload("Teacher").First(&leave, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &leave, nil
}

func (g *Gateway) InsertLeave(ctx context.Context, leave *models.Leave) error {
	if err := g.db.WithContext(ctx).Omit("Teacher").Create(leave).Error; err != nil {
		return fmt.Errorf("insert leave: %w", err)
	}
	g.publish(ctx, TableLeaves, OpInsert, leave.ID)
	return nil
}

func (g *Gateway) UpdateLeave(ctx context.Context, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	err := g.db.WithContext(ctx).Model(&models.Leave{}).Where("id = ?", id).Updates(fields).Error
	if err != nil {
		return fmt.Errorf("update leave %s: %w", id, err)
	}
	g.publish(ctx, TableLeaves, OpUpdate, id)
	return nil
}

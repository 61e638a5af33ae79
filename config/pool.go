package config

import (
	"time"

	"gorm.io/gorm"
)

// pooled is the part of *sql.DB a datasource's pool settings apply to.
type pooled interface {
	SetMaxOpenConns(int)
	SetMaxIdleConns(int)
	SetConnMaxLifetime(time.Duration)
	SetConnMaxIdleTime(time.Duration)
}

// applyPool sets the non-zero pool settings of cfg on pool. Pools that are not a
// *sql.DB, such as gorm's prepared statement pool, are left alone.
func (cfg DBConfig) applyPool(pool gorm.ConnPool) {
	db, ok := pool.(pooled)
	if !ok {
		return
	}
	if cfg.MaxOpenConns != 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns != 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime != 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)
	}
	if cfg.MaxIdleTime != 0 {
		db.SetConnMaxIdleTime(time.Duration(cfg.MaxIdleTime) * time.Second)
	}
}

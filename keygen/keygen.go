// Package keygen generates keys for INSERT statements that omit the generated key column.
package keygen

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrUnknownGenerator = errors.New("unknown key generator")

// Generator owns its sequence state and must be safe for concurrent use.
type Generator interface {
	Next() (interface{}, error)
}

type Config struct {
	Column   string `toml:"column" json:"column"`
	Type     string `toml:"type" json:"type"`
	WorkerID int64  `toml:"worker-id" json:"worker-id"`

	Generator Generator `toml:"-" json:"-"`
}

// New builds the generator named by the config: snowflake (default) or uuid.
func New(c *Config) (Generator, error) {
	if c.Generator != nil {
		return c.Generator, nil
	}
	switch strings.ToLower(c.Type) {
	case "", "snowflake":
		return NewSnowflake(c.WorkerID)
	case "uuid":
		return UUID{}, nil
	}
	return nil, errors.Wrapf(ErrUnknownGenerator, "%q", c.Type)
}

type Snowflake struct {
	node *snowflake.Node
}

func NewSnowflake(workerID int64) (*Snowflake, error) {
	node, err := snowflake.NewNode(workerID)
	if err != nil {
		return nil, errors.Wrapf(err, "snowflake worker %d", workerID)
	}
	return &Snowflake{node: node}, nil
}

func (s *Snowflake) Next() (interface{}, error) {
	return s.node.Generate().Int64(), nil
}

type UUID struct{}

func (UUID) Next() (interface{}, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	return id.String(), nil
}

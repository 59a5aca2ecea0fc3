// Package chipdb is a database of SPI NOR chip families, loaded from YAML.
package chipdb

import (
	"bytes"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gentam/nando/nor"
)

//go:embed chips.yaml
var defaultDB []byte

// Chip describes one chip family.
type Chip struct {
	Name   string `yaml:"name"`
	Vendor string `yaml:"vendor"`
	// ID is the JEDEC manufacturer, memory type and capacity bytes in hex.
	ID        string `yaml:"id"`
	Size      int    `yaml:"size"`
	EraseSize int    `yaml:"erase_size"`

	PageOffset  uint8  `yaml:"page_offset"`
	Read        uint8  `yaml:"read"`
	ReadID      uint8  `yaml:"read_id"`
	Write       uint8  `yaml:"write"`
	WriteEnable uint8  `yaml:"write_enable"`
	Erase       uint8  `yaml:"erase"`
	Status      uint8  `yaml:"status"`
	BusyBit     uint8  `yaml:"busy_bit"`
	BusyState   bool   `yaml:"busy_state"`
	Freq        uint32 `yaml:"freq"`
}

func (c *Chip) String() string {
	if c.Vendor == "" {
		return c.Name
	}
	return c.Vendor + " " + c.Name
}

// JEDEC decodes ID.
func (c *Chip) JEDEC() ([3]byte, error) {
	var id [3]byte
	b, err := hex.DecodeString(c.ID)
	if err != nil {
		return id, fmt.Errorf("chipdb: %s: id %q: %w", c.Name, c.ID, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("chipdb: %s: id %q is not 3 bytes", c.Name, c.ID)
	}
	return [3]byte(b), nil
}

// Config returns the driver configuration for the family.
func (c *Chip) Config() nor.Config {
	return nor.Config{
		PageOffset: c.PageOffset,
		ReadCmd:    c.Read,
		ReadIDCmd:  c.ReadID,
		WriteCmd:   c.Write,
		WriteEnCmd: c.WriteEnable,
		EraseCmd:   c.Erase,
		StatusCmd:  c.Status,
		BusyBit:    c.BusyBit,
		BusyState:  c.BusyState,
		Freq:       c.Freq,
	}
}

// PagesPerBlock is the number of pages one erase covers.
func (c *Chip) PagesPerBlock() int {
	return max(1, c.EraseSize>>c.PageOffset)
}

func (c *Chip) validate() error {
	if c.Name == "" {
		return errors.New("chipdb: chip without a name")
	}
	if _, err := c.JEDEC(); err != nil {
		return err
	}
	conf := c.Config()
	if err := conf.Validate(); err != nil {
		return fmt.Errorf("chipdb: %s: %w", c.Name, err)
	}
	if c.EraseSize <= 0 || c.EraseSize&(c.EraseSize-1) != 0 {
		return fmt.Errorf("chipdb: %s: erase size %d is not a power of two", c.Name, c.EraseSize)
	}
	if c.Size <= 0 || c.Size%c.EraseSize != 0 {
		return fmt.Errorf("chipdb: %s: size %d is not a multiple of the erase size", c.Name, c.Size)
	}
	return nil
}

// DB is an ordered list of chips.
type DB struct {
	Chips []Chip `yaml:"chips"`
}

// Default returns the built-in database.
func Default() (*DB, error) {
	return Load(bytes.NewReader(defaultDB))
}

// Load decodes and validates a YAML database.
func Load(r io.Reader) (*DB, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	db := &DB{}
	if err := dec.Decode(db); err != nil && err != io.EOF {
		return nil, fmt.Errorf("chipdb: %w", err)
	}
	for i := range db.Chips {
		if err := db.Chips[i].validate(); err != nil {
			return nil, err
		}
	}
	return db, nil
}

func LoadFile(path string) (*DB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Merge adds the chips of other, replacing chips with the same name.
func (db *DB) Merge(other *DB) {
	for _, c := range other.Chips {
		if i := db.index(c.Name); i >= 0 {
			db.Chips[i] = c
			continue
		}
		db.Chips = append(db.Chips, c)
	}
}

func (db *DB) index(name string) int {
	for i := range db.Chips {
		if strings.EqualFold(db.Chips[i].Name, name) {
			return i
		}
	}
	return -1
}

// ByName looks a chip up by name, ignoring case.
func (db *DB) ByName(name string) (*Chip, bool) {
	if i := db.index(name); i >= 0 {
		return &db.Chips[i], true
	}
	return nil, false
}

// ByID looks a chip up by JEDEC ID.
func (db *DB) ByID(id [3]byte) (*Chip, bool) {
	for i := range db.Chips {
		if jedec, err := db.Chips[i].JEDEC(); err == nil && jedec == id {
			return &db.Chips[i], true
		}
	}
	return nil, false
}

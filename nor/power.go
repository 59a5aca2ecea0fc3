package nor

import (
	"time"

	"github.com/gentam/nando/hal"
)

// Deep power-down commands shared by the supported families.
// [W25Q128JV 8.1.2 Instruction Set Table 1], [AT45DB161E Table 15-4]
const (
	cmdPowerDown        = 0xB9
	cmdReleasePowerDown = 0xAB
)

// tRES is the longest wake-up or power-down time of the supported families.
const tRES = 35 * time.Microsecond

// PowerDown puts the chip into deep power-down. Only PowerUp is accepted
// afterwards.
func (d *Driver) PowerDown() error {
	return d.power(cmdPowerDown)
}

// PowerUp releases the chip from deep power-down.
func (d *Driver) PowerUp() error {
	return d.power(cmdReleasePowerDown)
}

func (d *Driver) power(op byte) error {
	if !d.ready {
		return hal.ErrNotInitialized
	}
	if err := d.frame(func() error { return d.send(op) }); err != nil {
		return err
	}
	time.Sleep(tRES)
	return nil
}

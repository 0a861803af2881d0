package sim

import (
	"context"
	"flag"
	"fmt"
	"strconv"

	"github.com/golang/glog"

	"github.com/robotalks/corpc/pkg/channel"
	"github.com/robotalks/corpc/pkg/rpc"
)

// Config defines the memory map of the simulated target.
type Config struct {
	Name string
	// Base is the first address of target RAM. Slot k places its command
	// region at Base+k*Stride and its response region RegionSize later.
	Base        uint32
	Slots       int
	RegionSize  uint32
	Stride      uint32
	ScratchSize uint32
	Barrier     bool
}

// Defaults, matching the controller side defaults of pkg/env.
const (
	DefaultBase        uint32 = 0x20000000
	DefaultRegionSize  uint32 = 0x400
	DefaultStride      uint32 = 0x800
	DefaultScratchSize uint32 = 0x1000
)

var defaultConfig = Config{
	Name:        "corpc-sim",
	Base:        DefaultBase,
	Slots:       1,
	RegionSize:  DefaultRegionSize,
	Stride:      DefaultStride,
	ScratchSize: DefaultScratchSize,
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Name, "target-name", defaultConfig.Name, "Name reported by the info command.")
	flag.IntVar(&defaultConfig.Slots, "target-slots", defaultConfig.Slots, "Number of channel pairs.")
	flag.Var((*hexValue)(&defaultConfig.RegionSize), "region-size", "Size of each region in bytes.")
	flag.Var((*hexValue)(&defaultConfig.ScratchSize), "scratch-size", "Size of the scratch area in bytes.")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates the default configuration.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// ScratchBase is the first address of the scratch area, after the last slot.
func (c *Config) ScratchBase() uint32 {
	return c.Base + uint32(c.Slots)*c.Stride
}

// MemorySize is the RAM size covering all slots and the scratch area.
func (c *Config) MemorySize() int {
	return int(c.ScratchBase()-c.Base) + int(c.ScratchSize)
}

// Validate checks the slots fit the stride.
func (c *Config) Validate() error {
	if c.Slots <= 0 {
		return fmt.Errorf("sim: slots must be positive, got %d", c.Slots)
	}
	if c.RegionSize < channel.MinRegionSize || c.RegionSize%channel.WordSize != 0 {
		return fmt.Errorf("sim: region size %d: %w", c.RegionSize, channel.ErrRegionTooSmall)
	}
	if c.Stride < 2*c.RegionSize {
		return fmt.Errorf("sim: stride %#x can't hold two regions of %#x", c.Stride, c.RegionSize)
	}
	return nil
}

// NewTarget allocates RAM, initializes every slot and registers the built-in
// handlers.
func (c *Config) NewTarget(ctx context.Context) (*Target, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	t := &Target{
		Config: *c,
		RAM:    channel.NewRAM(c.Base, c.MemorySize()),
	}
	opts := channel.Options{Barrier: c.Barrier}
	for k := 0; k < c.Slots; k++ {
		base := c.Base + uint32(k)*c.Stride
		slot, err := rpc.InitSlot(ctx, t.RAM,
			channel.Layout{Base: base, Size: c.RegionSize},
			channel.Layout{Base: base + c.RegionSize, Size: c.RegionSize},
			opts)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", k, err)
		}
		t.Channels = append(t.Channels, slot)
	}
	t.Dispatcher = rpc.NewDispatcher(t.Channels...)
	if err := t.registerHandlers(); err != nil {
		return nil, err
	}
	glog.Infof("sim: %s with %d slot(s) at %#08x, scratch %#08x+%#x",
		c.Name, c.Slots, c.Base, c.ScratchBase(), c.ScratchSize)
	return t, nil
}

type hexValue uint32

func (v *hexValue) String() string {
	return fmt.Sprintf("%#x", uint32(*v))
}

func (v *hexValue) Set(s string) error {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return err
	}
	*v = hexValue(n)
	return nil
}

package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"routervm/internal/config"
	"routervm/internal/jit"
	"routervm/internal/mips32"
	"routervm/internal/vm"
)

func main() {
	name := flag.String("name", "router0", "VM instance name")
	workDir := flag.String("workdir", ".", "directory holding persisted NVRAM/bootflash files")
	chassisFile := flag.String("chassis", "", "key=value chassis description (see internal/config); falls back to a built-in c2600-shaped default when empty")
	resetPC := flag.Uint64("reset-pc", 0xBFC00000, "virtual address the CPU fetches from at power-on (KSEG1, direct-mapped onto the boot ROM's physical address)")
	verbose := flag.Bool("v", false, "enable debug-level logging")
	flag.Parse()

	v := vm.New(*name, *workDir)
	if *verbose {
		v.Logger = v.Logger.Level(0) // zerolog.DebugLevel
	}

	chassis, err := loadChassis(*chassisFile)
	if err != nil {
		v.Logger.Fatal().Err(err).Msg("failed to load chassis description")
	}

	if err := chassis.Build(v); err != nil {
		v.Logger.Fatal().Err(err).Msg("failed to bind chassis devices")
	}
	v.Logger.Info().Int("devices", len(v.Devices())).Msg("chassis built")

	cop0 := mips32.NewCOP0(0)
	hook := jit.NewStubCache()
	trans := mips32.NewTranslator(v, cop0, hook)

	v.SetState(vm.StateRunning)

	done := make(chan struct{})
	go func() {
		runLoop(v, trans, *resetPC)
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	start := time.Now()
	select {
	case <-sigCh:
		v.Logger.Info().Msg("signal received, shutting down")
		v.SetState(vm.StateShutdown)
	case <-done:
	}

	v.Teardown()
	v.Logger.Info().Dur("uptime", time.Since(start)).Msg("VM stopped")
}

// loadChassis reads path if given, otherwise returns an in-memory
// chassis description representative of a c2600-class router: RAM at
// guest address 0, NVRAM and a boot ROM reachable from reset, and the
// IO FPGA's dummy console so early firmware output has somewhere to
// go. It is the "something must construct a VM" shell this command
// exists for, not a stand-in for real chassis identification data.
func loadChassis(path string) (*config.Chassis, error) {
	if path != "" {
		return config.LoadFile(path)
	}

	return &config.Chassis{
		Name:                "c2600-default",
		RAMAddr:             0x00000000,
		RAMSize:             32 << 20,
		NVRAMAddr:           0x1E000000,
		NVRAMSize:           0x1F000,
		BootFlashAddr:       0x60000000,
		BootFlashSize:       8 << 20,
		BootFlashSectorSize: 0x10000,
		BootFlashManufID:    0x89,
		BootFlashDeviceID:   0xA4,
		IOFPGAAddr:          0x67400000,
		IOFPGALen:           0x1000,
		ConsoleAddr:         0x67000000,
		ROMAddr:             0x1FC00000,
		ROMImage:            make([]byte, 0x1000),
	}, nil
}

// runLoop is a placeholder instruction-fetch loop: it exercises the
// translator's Load path at the reset vector so a bound chassis is
// demonstrably reachable end to end, then stops. A real dispatch loop
// (decode/execute) is out of scope here, same as on the reference
// command this one is modeled on.
func runLoop(v *vm.VM, trans *mips32.Translator, pc uint64) {
	ctx := &vm.AccessContext{PC: pc}
	if _, fault := trans.Load(ctx, uint32(pc), vm.Size4); fault != nil {
		v.Logger.Error().Uint64("pc", pc).Interface("fault", fault).Msg("reset fetch faulted")
	}
}

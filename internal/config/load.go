package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadFile reads a minimal key=value chassis description: one
// assignment per line, blank lines and lines starting with '#'
// ignored. Integer fields accept any base strconv.ParseUint(0)
// understands, so hex addresses are written as 0x.... This covers the
// scalar fields only — EEPROM group wiring has no flat representation
// worth inventing and is expected to be set on the returned Chassis
// directly, the "small Go struct literal" half of the format.
func LoadFile(path string) (*Chassis, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c := &Chassis{}
	var romPath string

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		kv := strings.SplitN(text, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("config: %s:%d: expected key=value, got %q", path, line, text)
		}
		key := strings.TrimSpace(kv[0])
		val := strings.TrimSpace(kv[1])

		if err := assign(c, &romPath, key, val); err != nil {
			return nil, fmt.Errorf("config: %s:%d: %w", path, line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if romPath != "" {
		image, err := os.ReadFile(romPath)
		if err != nil {
			return nil, err
		}
		c.ROMImage = image
	}

	return c, nil
}

func assign(c *Chassis, romPath *string, key, val string) error {
	switch key {
	case "name":
		c.Name = val
	case "ram_addr":
		return assignUint64(&c.RAMAddr, val)
	case "ram_size":
		return assignUint32(&c.RAMSize, val)
	case "ram_ghost_path":
		c.RAMGhostPath = val
	case "nvram_addr":
		return assignUint64(&c.NVRAMAddr, val)
	case "nvram_size":
		return assignUint32(&c.NVRAMSize, val)
	case "rom_addr":
		return assignUint64(&c.ROMAddr, val)
	case "rom_path":
		*romPath = val
	case "bootflash_addr":
		return assignUint64(&c.BootFlashAddr, val)
	case "bootflash_size":
		return assignUint32(&c.BootFlashSize, val)
	case "bootflash_sector_size":
		return assignUint32(&c.BootFlashSectorSize, val)
	case "bootflash_manuf_id":
		return assignByte(&c.BootFlashManufID, val)
	case "bootflash_device_id":
		return assignByte(&c.BootFlashDeviceID, val)
	case "byteswap_addr":
		return assignUint64(&c.ByteSwapAddr, val)
	case "byteswap_len":
		return assignUint32(&c.ByteSwapLen, val)
	case "byteswap_remap_addr":
		return assignUint64(&c.ByteSwapRemapAddr, val)
	case "iofpga_addr":
		return assignUint64(&c.IOFPGAAddr, val)
	case "iofpga_len":
		return assignUint32(&c.IOFPGALen, val)
	case "console_addr":
		return assignUint64(&c.ConsoleAddr, val)
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return nil
}

func assignUint64(dst *uint64, val string) error {
	n, err := strconv.ParseUint(val, 0, 64)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func assignUint32(dst *uint32, val string) error {
	n, err := strconv.ParseUint(val, 0, 32)
	if err != nil {
		return err
	}
	*dst = uint32(n)
	return nil
}

func assignByte(dst *byte, val string) error {
	n, err := strconv.ParseUint(val, 0, 8)
	if err != nil {
		return err
	}
	*dst = byte(n)
	return nil
}

// Package chipid maps STM32 product IDs to family names, per AN2606.
package chipid

// names is informational only; no protocol decision depends on it.
var names = map[uint16]string{
	0x412: "STM32 Low-density",
	0x410: "STM32 Medium-density",
	0x414: "STM32 High-density",
	0x420: "STM32 Medium-density value line",
	0x428: "STM32 High-density value line",
	0x430: "STM32 XL-density",
	0x416: "STM32 Medium-density ultralow power line",
	0x411: "STM32F2xx",
	0x413: "STM32F4xx",
}

// Name returns the family name for a product ID, or "Unknown" for IDs not
// in the table.
func Name(id uint16) string {
	if name, ok := names[id]; ok {
		return name
	}
	return "Unknown"
}

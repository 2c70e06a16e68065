package hvdetect

import "bytes"

// ModuleQueryName identifies the kernel module query in errors.
const ModuleQueryName = "NtQuerySystemInformation(SystemModuleInformation)"

// 64-bit RTL_PROCESS_MODULES / RTL_PROCESS_MODULE_INFORMATION layout.
const (
	moduleTableHeaderSize  = 0x08 // NumberOfModules, padded to pointer alignment
	ModuleRecordSize       = 0x128
	moduleImageBase        = 0x10
	moduleImageSize        = 0x18
	moduleOffsetToFileName = 0x26
	moduleFullPathName     = 0x28
	moduleFullPathLen      = 0x100
)

// Module is a loaded kernel image.
type Module struct {
	ImageBase uint64 `json:"image_base"`
	ImageSize uint32 `json:"image_size"`
	FullPath  string `json:"full_path"`
	Name      string `json:"name"`
}

// Contains reports whether addr falls in [ImageBase, ImageBase+ImageSize).
func (m Module) Contains(addr uint64) bool {
	return addr >= m.ImageBase && addr-m.ImageBase < uint64(m.ImageSize)
}

// ModuleTable resolves addresses to the kernel module containing them.
type ModuleTable []Module

// Lookup returns the module containing addr and the offset of addr within
// it. ok is false when no module covers addr.
func (t ModuleTable) Lookup(addr uint64) (mod Module, offset uint64, ok bool) {
	for _, m := range t {
		if m.Contains(addr) {
			return m, addr - m.ImageBase, true
		}
	}
	return Module{}, 0, false
}

// DecodeModuleTable decodes a SystemModuleInformation buffer.
func DecodeModuleTable(data []byte) (ModuleTable, error) {
	if len(data) < moduleTableHeaderSize+ModuleRecordSize {
		return nil, newError(KindInsufficientData, ModuleQueryName)
	}

	count := int32(hostByteOrder.Uint32(data))
	if count < 0 {
		return nil, newError(KindMalformed, ModuleQueryName)
	}
	if moduleTableHeaderSize+uint64(count)*ModuleRecordSize > uint64(len(data)) {
		return nil, newError(KindInsufficientData, ModuleQueryName)
	}

	modules := make(ModuleTable, 0, count)
	for i := 0; i < int(count); i++ {
		rec := data[moduleTableHeaderSize+i*ModuleRecordSize:][:ModuleRecordSize]
		modules = append(modules, decodeModule(rec))
	}
	return modules, nil
}

func decodeModule(rec []byte) Module {
	raw := rec[moduleFullPathName : moduleFullPathName+moduleFullPathLen]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	path := string(raw)

	name := path
	if off := int(hostByteOrder.Uint16(rec[moduleOffsetToFileName:])); off < len(path) {
		name = path[off:]
	}

	return Module{
		ImageBase: hostByteOrder.Uint64(rec[moduleImageBase:]),
		ImageSize: hostByteOrder.Uint32(rec[moduleImageSize:]),
		FullPath:  path,
		Name:      name,
	}
}

package hvdetect

import "encoding/binary"

// Windows targets are little-endian on every supported architecture.
var hostByteOrder binary.ByteOrder = binary.LittleEndian

// TopologyQueryName identifies the processor topology query in errors.
const TopologyQueryName = "GetLogicalProcessorInformationEx"

// LOGICAL_PROCESSOR_RELATIONSHIP values.
const (
	RelationProcessorCore    uint32 = 0
	RelationNumaNode         uint32 = 1
	RelationCache            uint32 = 2
	RelationProcessorPackage uint32 = 3
	RelationGroup            uint32 = 4
	RelationAll              uint32 = 0xffff
)

// SYSTEM_LOGICAL_PROCESSOR_INFORMATION_EX layout.
const (
	topologyRelationshipOffset = 0x00
	topologySizeOffset         = 0x04
	topologyFlagsOffset        = 0x08 // PROCESSOR_RELATIONSHIP.Flags
	topologyHeaderSize         = 0x08
	// Relationship, Size and a PROCESSOR_RELATIONSHIP up to its GroupInfo pointer.
	TopologyRecordMinSize      = 0x28
)

// DecodeTopology walks a buffer of processor relationship records and
// returns the logical processor count. Each core record contributes one
// processor, or two when its SMT flag byte is set. Other relationship kinds
// are skipped using their declared size.
func DecodeTopology(data []byte) (int, error) {
	if len(data) < TopologyRecordMinSize {
		return 0, newError(KindInsufficientData, TopologyQueryName)
	}

	count := 0
	end := uint64(len(data))
	for offset := uint64(0); offset+TopologyRecordMinSize <= end; {
		record := data[offset:]
		relationship := hostByteOrder.Uint32(record[topologyRelationshipOffset:])
		size := hostByteOrder.Uint32(record[topologySizeOffset:])
		if size < topologyHeaderSize {
			return 0, newError(KindMalformed, TopologyQueryName)
		}

		if relationship == RelationProcessorCore {
			if record[topologyFlagsOffset] == 0 {
				count++
			} else {
				count += 2
			}
		}
		offset += uint64(size)
	}

	return count, nil
}

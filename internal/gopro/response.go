package gopro

// Response builders produce unframed camera messages in the layout Decode
// reads. The simulated camera and the codec tests use them.

// StatusEntry is one status in a query response or push.
type StatusEntry struct {
	ID    uint8
	Value uint64
	Size  int
}

// EncodeAck builds a response carrying only the result byte.
func EncodeAck(responseID uint8, ok bool) []byte {
	status := responseStatusOK
	if !ok {
		status = 0x02
	}
	return []byte{responseID, status}
}

// EncodeHardwareInfo builds the hardware-info response.
func EncodeHardwareInfo(info HardwareInfo) []byte {
	msg := []byte{cmdHardwareInfo, responseStatusOK, 4,
		byte(info.ModelID >> 24), byte(info.ModelID >> 16), byte(info.ModelID >> 8), byte(info.ModelID)}
	msg = append(msg, byte(len(info.ModelName)))
	return append(msg, info.ModelName...)
}

// EncodeStatuses builds a query response (responseID) with entries.
func EncodeStatuses(responseID uint8, entries []StatusEntry) []byte {
	msg := []byte{responseID, responseStatusOK}
	for _, e := range entries {
		msg = append(msg, e.ID, byte(e.Size))
		for i := e.Size - 1; i >= 0; i-- {
			msg = append(msg, byte(e.Value>>(8*i)))
		}
	}
	return msg
}

// EncodeStatusPush builds an unsolicited status update.
func EncodeStatusPush(entries []StatusEntry) []byte {
	return EncodeStatuses(queryStatusPush, entries)
}

// StatusEntries renders the tracked statuses the way a camera with caps reports them.
func StatusEntries(recording bool, battery uint8, mode CaptureMode, caps Capabilities) []StatusEntry {
	var enc uint64
	if recording {
		enc = 1
	}
	entries := []StatusEntry{
		{ID: StatusEncoding, Value: enc, Size: 1},
		{ID: StatusBattery, Value: uint64(battery), Size: 1},
	}
	if caps.OpenGoPro {
		if group, ok := PresetGroupFor(mode); ok {
			entries = append(entries, StatusEntry{ID: StatusPresetGroup, Value: uint64(group), Size: 4})
		}
	} else if legacy, ok := LegacyModeFor(mode); ok {
		entries = append(entries, StatusEntry{ID: StatusLegacyMode, Value: uint64(legacy), Size: 1})
	}
	return entries
}

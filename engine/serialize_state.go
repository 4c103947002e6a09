package engine

import "github.com/windrose/conductor/serialize"

// encodeState/decodeState are the only place the engine touches the
// serialization codec (C12), keeping WorkflowState's checkpoint wire
// format in one spot per spec §4.12.
func encodeState(state *WorkflowState) ([]byte, error) {
	return serialize.Encode(state)
}

func decodeState(blob []byte) (*WorkflowState, error) {
	var state WorkflowState
	if err := serialize.Decode(blob, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

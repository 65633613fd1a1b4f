package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/albaraazain/ald-control-plane/internal/plc"
)

func TestParseDataType(t *testing.T) {
	assert.Equal(t, plc.DataTypeInt32, parseDataType("int32"))
	assert.Equal(t, plc.DataTypeInt16, parseDataType("int16"))
	assert.Equal(t, plc.DataTypeBool, parseDataType("binary"))
	assert.Equal(t, plc.DataTypeBool, parseDataType("bool"))
	assert.Equal(t, plc.DataTypeBool, parseDataType("coil"))
	assert.Equal(t, plc.DataTypeFloat, parseDataType("float"))
	assert.Equal(t, plc.DataTypeFloat, parseDataType("whatever-else"))
}

func TestParseRegisterKind(t *testing.T) {
	assert.Equal(t, plc.RegisterCoil, parseRegisterKind("coil"))
	assert.Equal(t, plc.RegisterHolding, parseRegisterKind("holding"))
	assert.Equal(t, plc.RegisterHolding, parseRegisterKind("anything-else"))
}

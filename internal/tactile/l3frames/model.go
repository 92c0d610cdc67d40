package l3frames

import "strings"

// Model is a sensor model and the dimensions of its marker mesh.
type Model struct {
	Name string
	Rows int
	Cols int
}

// UnknownModel is reported for serial numbers with an unrecognised prefix.
const UnknownModel = "UNKNOWN"

var modelMeshes = map[string]Model{
	"A1":   {Name: "A1", Rows: 20, Cols: 20},
	"AD2":  {Name: "AD2", Rows: 20, Cols: 20},
	"HDL1": {Name: "HDL1", Rows: 20, Cols: 20},
	"DM1":  {Name: "DM1", Rows: 20, Cols: 20},
	"DS1":  {Name: "DS1", Rows: 16, Cols: 16},
	"DSt1": {Name: "DSt1", Rows: 16, Cols: 16},
	"B1":   {Name: "B1", Rows: 16, Cols: 16},
}

// ModelFromSN derives the sensor model from a serial number such as
// "HDL1-0003". The model is the text before the first '-', with a leading 'Y'
// removed.
func ModelFromSN(sn string) Model {
	name, _, _ := strings.Cut(sn, "-")
	name = strings.TrimPrefix(name, "Y")
	if m, ok := modelMeshes[name]; ok {
		return m
	}
	return Model{Name: UnknownModel, Rows: 20, Cols: 20}
}

// Markers is the number of tracked markers, one row of the 3D_* matrices each.
func (m Model) Markers() int { return m.Rows * m.Cols }

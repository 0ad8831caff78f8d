package accessory

import (
	"github.com/brutella/hc/accessory"
	"github.com/milinda/buildtrackbridge/service"
)

type Fan struct {
	*accessory.Accessory
	Fan *service.Fan
}

// NewFan returns a fan accessory whose speed slider moves in 100/speedCount
// steps.
func NewFan(info accessory.Info, speedCount int) *Fan {
	acc := Fan{}
	acc.Accessory = accessory.New(info, accessory.TypeFan)
	acc.Fan = service.NewFan()

	if speedCount > 0 {
		acc.Fan.Speed.SetStepValue(100 / float64(speedCount))
	}
	acc.Fan.Speed.SetValue(0)

	acc.AddService(acc.Fan.Service)

	return &acc
}

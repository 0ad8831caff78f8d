package service

import (
	"github.com/brutella/hc/characteristic"
	"github.com/brutella/hc/service"
)

type Fan struct {
	*service.Service

	On        *characteristic.On
	Speed     *characteristic.RotationSpeed
	Direction *characteristic.RotationDirection
}

// NewFan returns a fan service whose rotation direction is fixed to clockwise.
func NewFan() *Fan {
	svc := Fan{}
	svc.Service = service.New(service.TypeFan)

	svc.On = characteristic.NewOn()
	svc.AddCharacteristic(svc.On.Characteristic)

	svc.Speed = characteristic.NewRotationSpeed()
	svc.AddCharacteristic(svc.Speed.Characteristic)

	svc.Direction = characteristic.NewRotationDirection()
	svc.Direction.SetValue(characteristic.RotationDirectionClockwise)
	svc.AddCharacteristic(svc.Direction.Characteristic)

	svc.Direction.OnValueRemoteUpdate(func(int) {
		svc.Direction.SetValue(characteristic.RotationDirectionClockwise)
	})

	return &svc
}

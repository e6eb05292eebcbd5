package envdata

import (
	"strings"

	"github.com/juju/errors"
)

// Kind is measurement category of one sensor channel.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAmbientTemp
	KindDieTemp
	KindPressure
	KindHumidity
	KindProximity
	KindLight
	KindAmbientLight
	KindIR
	KindRed
	KindGreen
	KindBlue
	KindAltitude
	KindPM1_0
	KindPM2_5
	KindPM10
	KindDistance
	KindCO2
	KindO2
	KindGasRes
	KindVOC
	KindVoltage
)

// Wire name, several kinds share one.
func (k Kind) String() string {
	switch k {
	case KindAmbientTemp, KindDieTemp:
		return "temp"
	case KindPressure:
		return "press"
	case KindProximity:
		return "prox"
	case KindHumidity:
		return "humid"
	case KindLight, KindAmbientLight:
		return "light"
	case KindIR:
		return "ir"
	case KindRed:
		return "red"
	case KindGreen:
		return "green"
	case KindBlue:
		return "blue"
	case KindAltitude:
		return "alt"
	case KindPM1_0:
		return "pm1.0"
	case KindPM2_5:
		return "pm2.5"
	case KindPM10:
		return "pm10"
	case KindDistance:
		return "dist"
	case KindCO2:
		return "co2"
	case KindO2:
		return "o2"
	case KindGasRes:
		return "gas_res"
	case KindVOC:
		return "voc"
	case KindVoltage:
		return "volt"
	default:
		return "unknown"
	}
}

// config names are unique, unlike wire names
var kindNames = map[string]Kind{
	"temp":          KindAmbientTemp,
	"ambient_temp":  KindAmbientTemp,
	"die_temp":      KindDieTemp,
	"press":         KindPressure,
	"humid":         KindHumidity,
	"prox":          KindProximity,
	"light":         KindLight,
	"ambient_light": KindAmbientLight,
	"ir":            KindIR,
	"red":           KindRed,
	"green":         KindGreen,
	"blue":          KindBlue,
	"alt":           KindAltitude,
	"pm1.0":         KindPM1_0,
	"pm2.5":         KindPM2_5,
	"pm10":          KindPM10,
	"dist":          KindDistance,
	"co2":           KindCO2,
	"o2":            KindO2,
	"gas_res":       KindGasRes,
	"voc":           KindVOC,
	"volt":          KindVoltage,
}

func ParseKind(s string) (Kind, error) {
	if k, ok := kindNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return k, nil
	}
	return KindUnknown, errors.NotValidf("measurement kind=%q", s)
}

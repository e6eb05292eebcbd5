package sensor

import (
	"sort"

	"github.com/juju/errors"
	"github.com/temoto/envtele/internal/envdata"
)

// Known sensor models and channels they expose, order matters.
var compat = map[string][]envdata.Kind{
	"bh1750":   {envdata.KindLight},
	"sht4x":    {envdata.KindAmbientTemp, envdata.KindHumidity},
	"ds18b20":  {envdata.KindAmbientTemp},
	"dht":      {envdata.KindAmbientTemp, envdata.KindHumidity},
	"dht20":    {envdata.KindAmbientTemp, envdata.KindHumidity},
	"bmp180":   {envdata.KindPressure, envdata.KindDieTemp},
	"bme280":   {envdata.KindAmbientTemp, envdata.KindPressure, envdata.KindHumidity},
	"bmp280":   {envdata.KindAmbientTemp, envdata.KindPressure},
	"bme680":   {envdata.KindAmbientTemp, envdata.KindPressure, envdata.KindHumidity},
	"apds9960": {envdata.KindLight, envdata.KindRed, envdata.KindGreen, envdata.KindBlue, envdata.KindProximity},
	"vcnl4040": {envdata.KindProximity, envdata.KindLight},
}

// ModelChannels returns default channels of sensor model.
func ModelChannels(model string) ([]ChannelSpec, error) {
	kinds, ok := compat[model]
	if !ok {
		return nil, errors.NotFoundf("sensor model=%s", model)
	}
	return Channels(kinds...), nil
}

// ResolveChannels: explicit config names win over model defaults.
func ResolveChannels(model string, names []string) ([]ChannelSpec, error) {
	if len(names) == 0 {
		return ModelChannels(model)
	}
	kinds := make([]envdata.Kind, 0, len(names))
	for _, n := range names {
		k, err := envdata.ParseKind(n)
		if err != nil {
			return nil, errors.Annotatef(err, "sensor model=%s", model)
		}
		kinds = append(kinds, k)
	}
	return Channels(kinds...), nil
}

func Models() []string {
	ss := make([]string, 0, len(compat))
	for m := range compat {
		ss = append(ss, m)
	}
	sort.Strings(ss)
	return ss
}

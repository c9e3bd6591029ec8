package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// FeeTier applies to booking totals strictly below UpToCents. The last tier of
// a region leaves UpToCents at zero and catches everything above.
type FeeTier struct {
	UpToCents int64   `mapstructure:"upToCents"`
	HostRate  float64 `mapstructure:"hostRate"`
	GuestRate float64 `mapstructure:"guestRate"`
}

type FeeRegion struct {
	Code     string    `mapstructure:"code"`
	Currency string    `mapstructure:"currency"`
	TaxRate  float64   `mapstructure:"taxRate"`
	Tiers    []FeeTier `mapstructure:"tiers"`
}

type FeeSchedule struct {
	DefaultRegion string      `mapstructure:"defaultRegion"`
	Regions       []FeeRegion `mapstructure:"regions"`
}

// Region returns the region by code, falling back to DefaultRegion.
func (s FeeSchedule) Region(code string) (FeeRegion, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, region := range s.Regions {
		if strings.EqualFold(region.Code, code) {
			return region, true
		}
	}
	for _, region := range s.Regions {
		if strings.EqualFold(region.Code, s.DefaultRegion) {
			return region, true
		}
	}
	return FeeRegion{}, false
}

func tiers(host, guest [5]float64) []FeeTier {
	bounds := [5]int64{2000, 6000, 15000, 30000, 0}
	out := make([]FeeTier, 0, len(bounds))
	for i := range bounds {
		out = append(out, FeeTier{UpToCents: bounds[i], HostRate: host[i], GuestRate: guest[i]})
	}
	return out
}

func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		DefaultRegion: "FRANCE",
		Regions: []FeeRegion{
			{
				Code: "FRANCE", Currency: "EUR", TaxRate: 0.20,
				Tiers: tiers([5]float64{0.030, 0.027, 0.023, 0.021, 0.020}, [5]float64{0.115, 0.105, 0.098, 0.085, 0.075}),
			},
			{
				Code: "AB", Currency: "CAD", TaxRate: 0.05,
				Tiers: tiers([5]float64{0.027, 0.024, 0.022, 0.020, 0.018}, [5]float64{0.098, 0.088, 0.082, 0.078, 0.073}),
			},
			{
				Code: "BC", Currency: "CAD", TaxRate: 0.12,
				Tiers: tiers([5]float64{0.028, 0.025, 0.023, 0.021, 0.019}, [5]float64{0.103, 0.092, 0.085, 0.080, 0.075}),
			},
			{
				Code: "ON", Currency: "CAD", TaxRate: 0.13,
				Tiers: tiers([5]float64{0.029, 0.026, 0.024, 0.022, 0.020}, [5]float64{0.108, 0.098, 0.092, 0.087, 0.080}),
			},
			{
				Code: "QC", Currency: "CAD", TaxRate: 0.14975,
				Tiers: tiers([5]float64{0.030, 0.027, 0.024, 0.022, 0.020}, [5]float64{0.115, 0.105, 0.095, 0.090, 0.082}),
			},
			{
				Code: "ATL", Currency: "CAD", TaxRate: 0.15,
				Tiers: tiers([5]float64{0.030, 0.028, 0.025, 0.023, 0.021}, [5]float64{0.115, 0.105, 0.098, 0.090, 0.083}),
			},
		},
	}
}

type FeeScheduleHolder struct {
	current atomic.Value // holds FeeSchedule
}

// NewStaticFeeScheduleHolder wraps a fixed schedule without watching any file.
func NewStaticFeeScheduleHolder(schedule FeeSchedule) *FeeScheduleHolder {
	holder := &FeeScheduleHolder{}
	holder.current.Store(schedule)
	return holder
}

func NewFeeScheduleHolder(log *zap.Logger) (*FeeScheduleHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.fees")

	v := viper.New()
	v.SetConfigName("stayledger")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/stayledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("STAYLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	schedule := DefaultFeeSchedule()
	if fileFound && v.IsSet("fees") {
		var loaded FeeSchedule
		if err := v.UnmarshalKey("fees", &loaded); err != nil {
			return nil, err
		}
		if err := ValidateFeeSchedule(loaded); err != nil {
			return nil, err
		}
		schedule = loaded
	}

	holder := NewStaticFeeScheduleHolder(schedule)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated FeeSchedule
		if err := v.UnmarshalKey("fees", &updated); err != nil {
			log.Warn("fee schedule reload failed", zap.Error(err))
			return
		}
		if err := ValidateFeeSchedule(updated); err != nil {
			log.Warn("invalid fee schedule ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("fee schedule reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *FeeScheduleHolder) Get() FeeSchedule {
	return h.current.Load().(FeeSchedule)
}

func ValidateFeeSchedule(s FeeSchedule) error {
	if len(s.Regions) == 0 {
		return errors.New("fees.regions cannot be empty")
	}
	for _, region := range s.Regions {
		if strings.TrimSpace(region.Code) == "" {
			return errors.New("fees.regions.code is required")
		}
		if len(region.Tiers) == 0 {
			return fmt.Errorf("fees.regions[%s].tiers cannot be empty", region.Code)
		}
		if region.TaxRate < 0 {
			return fmt.Errorf("fees.regions[%s].taxRate must not be negative", region.Code)
		}
		for _, tier := range region.Tiers {
			if tier.HostRate < 0 || tier.GuestRate < 0 || tier.HostRate >= 1 || tier.GuestRate >= 1 {
				return fmt.Errorf("fees.regions[%s] has a rate outside [0,1)", region.Code)
			}
		}
	}
	return nil
}

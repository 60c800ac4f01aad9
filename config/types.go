package config

// DefaultMinBid is the bid floor in base units: 100 whole coins at nine
// decimals.
const DefaultMinBid = "100000000000"

// Market holds the bootstrap parameters of the market engine. Addresses are
// bech32 encoded.
type Market struct {
	Owner              string   `toml:"Owner"`
	FeeReceiver        string   `toml:"FeeReceiver"`
	MarketAddress      string   `toml:"MarketAddress"`
	FeeRate            uint64   `toml:"FeeRate"`
	MinBid             string   `toml:"MinBid"`
	SupportedContracts []string `toml:"SupportedContracts"`
	Paused             bool     `toml:"Paused"`
}

// Allocation credits an account at genesis.
type Allocation struct {
	Address string `toml:"Address"`
	Amount  string `toml:"Amount"`
}

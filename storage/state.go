package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"cdpengine/native/cdp"
)

var (
	poolKey       = []byte("cdp/pool")
	paramsKey     = []byte("cdp/params")
	feesKey       = []byte("cdp/fees")
	assetIndexKey = []byte("cdp/assets")

	assetPrefix    = []byte("cdp/asset/")
	positionPrefix = []byte("cdp/position/")
)

// State persists the engine ledger records RLP-encoded in a Database. It is
// the production implementation of the engine's state interface.
type State struct {
	db Database
}

func NewState(db Database) *State {
	return &State{db: db}
}

func assetKey(token common.Address) []byte {
	return append(append([]byte(nil), assetPrefix...), token.Bytes()...)
}

func positionKey(account common.Address) []byte {
	return append(append([]byte(nil), positionPrefix...), account.Bytes()...)
}

func (s *State) get(key []byte, out interface{}) (bool, error) {
	data, err := s.db.Get(key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("storage: decode %q: %w", key, err)
	}
	return true, nil
}

func (s *State) put(key []byte, value interface{}) error {
	data, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	return s.db.Put(key, data)
}

func (s *State) GetPool() (*cdp.DebtPool, error) {
	pool := new(cdp.DebtPool)
	ok, err := s.get(poolKey, pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return pool, nil
}

func (s *State) PutPool(pool *cdp.DebtPool) error {
	if pool == nil {
		return fmt.Errorf("storage: pool must not be nil")
	}
	return s.put(poolKey, pool)
}

func (s *State) GetPosition(account common.Address) (*cdp.Position, error) {
	position := new(cdp.Position)
	ok, err := s.get(positionKey(account), position)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return position, nil
}

func (s *State) PutPosition(position *cdp.Position) error {
	if position == nil {
		return fmt.Errorf("storage: position must not be nil")
	}
	return s.put(positionKey(position.Account), position)
}

func (s *State) GetAsset(token common.Address) (*cdp.CollateralAsset, error) {
	asset := new(cdp.CollateralAsset)
	ok, err := s.get(assetKey(token), asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return asset, nil
}

func (s *State) PutAsset(asset *cdp.CollateralAsset) error {
	if asset == nil {
		return fmt.Errorf("storage: asset must not be nil")
	}
	var index []common.Address
	if _, err := s.get(assetIndexKey, &index); err != nil {
		return err
	}
	known := false
	for _, token := range index {
		if token == asset.Token {
			known = true
			break
		}
	}
	if !known {
		index = append(index, asset.Token)
		if err := s.put(assetIndexKey, index); err != nil {
			return err
		}
	}
	return s.put(assetKey(asset.Token), asset)
}

func (s *State) ListAssets() ([]*cdp.CollateralAsset, error) {
	var index []common.Address
	if _, err := s.get(assetIndexKey, &index); err != nil {
		return nil, err
	}
	assets := make([]*cdp.CollateralAsset, 0, len(index))
	for _, token := range index {
		asset, err := s.GetAsset(token)
		if err != nil {
			return nil, err
		}
		if asset != nil {
			assets = append(assets, asset)
		}
	}
	return assets, nil
}

func (s *State) GetFeeAccrual() (*cdp.FeeAccrual, error) {
	fees := new(cdp.FeeAccrual)
	ok, err := s.get(feesKey, fees)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return fees, nil
}

func (s *State) PutFeeAccrual(fees *cdp.FeeAccrual) error {
	if fees == nil {
		return fmt.Errorf("storage: fee accrual must not be nil")
	}
	return s.put(feesKey, fees)
}

func (s *State) GetParams() (*cdp.ProtocolParams, error) {
	params := new(cdp.ProtocolParams)
	ok, err := s.get(paramsKey, params)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return params, nil
}

func (s *State) PutParams(params *cdp.ProtocolParams) error {
	if params == nil {
		return fmt.Errorf("storage: params must not be nil")
	}
	return s.put(paramsKey, params)
}

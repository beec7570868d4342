/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"crypto-settlement-go/internal/models"

	"gopkg.in/yaml.v2"
)

type AssetsConfig struct {
	Assets []models.Asset `yaml:"assets"`
}

// CustodyConfig lists pre-provisioned deposit addresses per network.
type CustodyConfig struct {
	Networks map[string][]string `yaml:"networks"`
}

func resolvePath(file string) (string, error) {
	if filepath.IsAbs(file) {
		return file, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return filepath.Join(wd, file), nil
}

func readYAML(file string, out any) error {
	path, err := resolvePath(file)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("unable to read %s: %w", file, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unable to parse %s: %w", file, err)
	}
	return nil
}

// LoadAssets reads the supported token list. Symbols are upper-cased and networks
// lower-cased to match invoice normalization.
func LoadAssets(assetsFile string) ([]models.Asset, error) {
	var config AssetsConfig
	if err := readYAML(assetsFile, &config); err != nil {
		return nil, err
	}

	for i := range config.Assets {
		asset := &config.Assets[i]
		if asset.Symbol == "" {
			return nil, fmt.Errorf("asset at index %d missing symbol", i)
		}
		if asset.Network == "" {
			return nil, fmt.Errorf("asset at index %d missing network", i)
		}
		if asset.Decimals < 0 || asset.Decimals > 36 {
			return nil, fmt.Errorf("asset %s has invalid decimals %d", asset.Symbol, asset.Decimals)
		}
		asset.Symbol = strings.ToUpper(asset.Symbol)
		asset.Network = strings.ToLower(asset.Network)
		asset.Contract = strings.ToLower(asset.Contract)
	}

	return config.Assets, nil
}

// LoadCustodyAddresses reads the custody pool file.
func LoadCustodyAddresses(custodyFile string) (map[string][]string, error) {
	var config CustodyConfig
	if err := readYAML(custodyFile, &config); err != nil {
		return nil, err
	}

	pool := make(map[string][]string, len(config.Networks))
	for network, addresses := range config.Networks {
		network = strings.ToLower(strings.TrimSpace(network))
		for _, a := range addresses {
			if a = strings.TrimSpace(a); a != "" {
				pool[network] = append(pool[network], a)
			}
		}
	}
	return pool, nil
}

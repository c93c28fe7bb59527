// go-itla
// Copyright (c) 2025 The go-itla Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-itla.
//
// go-itla is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-itla is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-itla; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.


package uart

import (
	"context"
	"errors"
	"sort"

	"golang.org/x/sys/windows/registry"
)

// getSerialPorts lists COM ports. The enumerator supplies USB metadata;
// the SERIALCOMM registry map is used when it fails or misses a port.
func getSerialPorts(_ context.Context) ([]serialPort, error) {
	enumerated, enumErr := fromEnumerator()
	registered, regErr := getRegistryCOMPorts()
	if enumErr != nil && regErr != nil {
		return nil, errors.Join(enumErr, regErr)
	}

	byPath := make(map[string]serialPort, len(enumerated)+len(registered))
	for _, p := range registered {
		byPath[p.Path] = p
	}
	for _, p := range enumerated {
		byPath[p.Path] = p
	}

	ports := make([]serialPort, 0, len(byPath))
	for _, p := range byPath {
		ports = append(ports, p)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Path < ports[j].Path })
	return ports, nil
}

// getRegistryCOMPorts reads HKLM\HARDWARE\DEVICEMAP\SERIALCOMM
func getRegistryCOMPorts() ([]serialPort, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, `HARDWARE\DEVICEMAP\SERIALCOMM`, registry.QUERY_VALUE)
	if err != nil {
		return nil, err
	}
	defer func() { _ = key.Close() }()

	values, err := key.ReadValueNames(-1)
	if err != nil {
		return nil, err
	}

	ports := make([]serialPort, 0, len(values))
	for _, value := range values {
		name, _, err := key.GetStringValue(value)
		if err != nil {
			continue
		}
		ports = append(ports, serialPort{Path: name, Name: name})
	}
	return ports, nil
}

// Copyright 2024 The Armored Witness authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// The imagetool tool builds and signs firmware images for the DICE boot
// chain, and optionally writes them to a disk image in the eMMC layout read
// by the ROM.
package main

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"flag"
	"os"
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/transparency-dev/armored-witness-common/release/firmware"
	"k8s.io/klog/v2"

	"github.com/transparency-dev/armored-witness-dice/internal/image"
	"github.com/transparency-dev/armored-witness-dice/internal/keyvault"
)

var (
	outputFile     = flag.String("output_file", "", "File to write the signed image to.")
	diskFile       = flag.String("disk_file", "", "Optional disk image to flash the signed image to.")
	proofBundle    = flag.String("proof_bundle_file", "", "Optional JSON proof bundle flashed along with the image.")
	version        = flag.String("version", "", "Firmware semantic version.")
	vendorKeyFile  = flag.String("vendor_key_file", "", "PEM vendor signing key.")
	vendorPubKeys  = flag.String("vendor_pubkey_files", "", "Comma separated PEM vendor public keys, the signing key public half is used when empty.")
	vendorKeyIndex = flag.Uint("vendor_key_index", 0, "Index of the vendor signing key.")
	ownerKeyFile   = flag.String("owner_key_file", "", "PEM owner signing key.")

	fmcFile  = flag.String("fmc_file", "", "FMC binary.")
	fmcSVN   = flag.Uint("fmc_svn", 0, "FMC security version number.")
	fmcLoad  = flag.Uint("fmc_load_addr", 0x90000000, "FMC load address.")
	fmcEntry = flag.Uint("fmc_entry", 0x90000000, "FMC entry point.")

	rtFile  = flag.String("rt_file", "", "Runtime binary.")
	rtSVN   = flag.Uint("rt_svn", 0, "Runtime security version number.")
	rtLoad  = flag.Uint("rt_load_addr", 0x98000000, "Runtime load address.")
	rtEntry = flag.Uint("rt_entry", 0x98000000, "Runtime entry point.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *outputFile == "" && *diskFile == "" {
		klog.Exitf("One of --output_file or --disk_file is required")
	}

	v, err := semver.NewVersion(*version)

	if err != nil {
		klog.Exitf("Invalid --version %q: %v", *version, err)
	}

	vendorKey := signerOrDie(*vendorKeyFile, "vendor")
	ownerKey := signerOrDie(*ownerKeyFile, "owner")

	o := &image.BuildOptions{
		Version:        v,
		VendorKeyIndex: uint32(*vendorKeyIndex),
		VendorKey:      vendorKey,
		OwnerKey:       ownerKey,
		Fmc:            payloadOrDie(*fmcFile, *fmcSVN, *fmcLoad, *fmcEntry),
		Rt:             payloadOrDie(*rtFile, *rtSVN, *rtLoad, *rtEntry),
	}

	if o.VendorKeyIndex >= image.NumVendorKeys {
		klog.Exitf("Invalid --vendor_key_index %d", o.VendorKeyIndex)
	}

	if *vendorPubKeys == "" {
		o.VendorPubKeys[o.VendorKeyIndex] = keyvault.FromECDSA(&vendorKey.PublicKey)
	} else {
		for i, p := range strings.Split(*vendorPubKeys, ",") {
			if i >= image.NumVendorKeys {
				klog.Exitf("At most %d vendor public keys are supported", image.NumVendorKeys)
			}

			o.VendorPubKeys[i] = keyvault.FromECDSA(publicKeyOrDie(p))
		}
	}

	img, err := image.Build(o)

	if err != nil {
		klog.Exitf("Failed to build image: %v", err)
	}

	klog.Infof("Built %s image (%d bytes)", v, len(img))
	klog.Infof("Vendor key set digest: %s", hex.EncodeToString(digest(image.VendorKeysDigest(o.VendorPubKeys))))
	klog.Infof("Owner key digest: %s", hex.EncodeToString(digest(image.OwnerKeyDigest(keyvault.FromECDSA(&ownerKey.PublicKey)))))

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, img, 0o644); err != nil {
			klog.Exitf("WriteFile: %v", err)
		}

		klog.Infof("Wrote image to %q", *outputFile)
	}

	if *diskFile != "" {
		bundle := bundleOrDie(*proofBundle)
		bundle.Firmware = img

		if err := flashDisk(*diskFile, bundle); err != nil {
			klog.Exitf("Failed to flash %q: %v", *diskFile, err)
		}

		klog.Infof("Flashed image to %q", *diskFile)
	}
}

func digest(d [32]byte) []byte {
	return d[:]
}

func payloadOrDie(p string, svn uint, load uint, entry uint) image.Payload {
	data, err := os.ReadFile(p)

	if err != nil {
		klog.Exitf("Failed to read component %q: %v", p, err)
	}

	return image.Payload{
		Data:       data,
		SVN:        uint32(svn),
		LoadAddr:   uint32(load),
		EntryPoint: uint32(entry),
	}
}

func pemOrDie(p string) *pem.Block {
	b, err := os.ReadFile(p)

	if err != nil {
		klog.Exitf("Failed to read key %q: %v", p, err)
	}

	block, _ := pem.Decode(b)

	if block == nil {
		klog.Exitf("No PEM block in %q", p)
	}

	return block
}

func parsePrivateKey(der []byte) (*ecdsa.PrivateKey, error) {
	if k, err := x509.ParseECPrivateKey(der); err == nil {
		return k, nil
	}

	k, err := x509.ParsePKCS8PrivateKey(der)

	if err != nil {
		return nil, err
	}

	ec, ok := k.(*ecdsa.PrivateKey)

	if !ok {
		return nil, errors.New("not an ECDSA key")
	}

	return ec, nil
}

func signerOrDie(p string, thing string) *ecdsa.PrivateKey {
	k, err := parsePrivateKey(pemOrDie(p).Bytes)

	if err != nil {
		klog.Exitf("Invalid %s key %q: %v", thing, p, err)
	}

	return k
}

func publicKeyOrDie(p string) *ecdsa.PublicKey {
	k, err := x509.ParsePKIXPublicKey(pemOrDie(p).Bytes)

	if err != nil {
		klog.Exitf("Invalid public key %q: %v", p, err)
	}

	ec, ok := k.(*ecdsa.PublicKey)

	if !ok {
		klog.Exitf("Public key %q is not an ECDSA key", p)
	}

	return ec
}

func bundleOrDie(p string) *firmware.Bundle {
	b := &firmware.Bundle{}

	if p == "" {
		klog.Warning("No proof bundle, the image only boots with release authentication disabled")
		return b
	}

	buf, err := os.ReadFile(p)

	if err != nil {
		klog.Exitf("Failed to read proof bundle %q: %v", p, err)
	}

	if err = json.Unmarshal(buf, b); err != nil {
		klog.Exitf("Invalid proof bundle %q: %v", p, err)
	}

	return b
}

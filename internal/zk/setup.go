package zk

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"zkdrop/internal/logger"
)

const (
	provingKeyFile   = "claim.pk"
	verifyingKeyFile = "claim.vk"
)

// Keys bundles the compiled claim circuit with its Groth16 key pair.
type Keys struct {
	CCS constraint.ConstraintSystem
	PK  groth16.ProvingKey
	VK  groth16.VerifyingKey
}

// Compile compiles the claim circuit to an R1CS over BN254.
func Compile() (constraint.ConstraintSystem, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &ClaimCircuit{})
	if err != nil {
		return nil, fmt.Errorf("compile claim circuit:\n%w", err)
	}
	return ccs, nil
}

// Setup compiles the circuit and loads the Groth16 key pair from dataDir,
// running a fresh setup and persisting the keys if none exist yet.
//
// The fresh setup is single-party: fine for development and tests, not a
// production ceremony.
func Setup(dataDir string) (*Keys, error) {
	start := time.Now()

	ccs, err := Compile()
	if err != nil {
		return nil, err
	}

	pkPath := filepath.Join(dataDir, provingKeyFile)
	vkPath := filepath.Join(dataDir, verifyingKeyFile)

	if keys, err := loadKeys(ccs, pkPath, vkPath); err == nil {
		logger.Info("proving keys loaded", "dir", dataDir, "constraints", ccs.GetNbConstraints(), logger.Timed(start))
		return keys, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	logger.Warn("running single-party groth16 setup, not for production use")

	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("groth16 setup:\n%w", err)
	}

	if err := saveKey(pkPath, pk.WriteTo); err != nil {
		return nil, err
	}
	if err := saveKey(vkPath, vk.WriteTo); err != nil {
		return nil, err
	}

	logger.Info("proving keys generated", "dir", dataDir, "constraints", ccs.GetNbConstraints(), logger.Timed(start))

	return &Keys{CCS: ccs, PK: pk, VK: vk}, nil
}

// loadKeys reads a persisted key pair. Returns an os.IsNotExist error if
// either file is missing.
func loadKeys(ccs constraint.ConstraintSystem, pkPath, vkPath string) (*Keys, error) {
	pkFile, err := os.Open(pkPath)
	if err != nil {
		return nil, err
	}
	defer pkFile.Close()

	vkFile, err := os.Open(vkPath)
	if err != nil {
		return nil, err
	}
	defer vkFile.Close()

	pk := groth16.NewProvingKey(ecc.BN254)
	if _, err := pk.ReadFrom(pkFile); err != nil {
		return nil, fmt.Errorf("read proving key %s:\n%w", pkPath, err)
	}

	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(vkFile); err != nil {
		return nil, fmt.Errorf("read verifying key %s:\n%w", vkPath, err)
	}

	return &Keys{CCS: ccs, PK: pk, VK: vk}, nil
}

// saveKey writes a key with its WriteTo method via a temp file rename.
func saveKey(path string, writeTo func(w io.Writer) (int64, error)) error {
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s:\n%w", tmp, err)
	}

	if _, err := writeTo(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s:\n%w", path, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s:\n%w", tmp, err)
	}

	return os.Rename(tmp, path)
}

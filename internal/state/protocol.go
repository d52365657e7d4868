package state

import "github.com/google/uuid"

// ProtocolConfig is the singleton circuit-breaker record.
type ProtocolConfig struct {
	Admin        uuid.UUID
	Paused       bool
	Initialized  bool
	OraclePaused bool // halts price publication only
}

// Initialize installs the admin; it may run once.
func (c *ProtocolConfig) Initialize(admin uuid.UUID) error {
	if c.Initialized {
		return ErrAlreadyInitialized
	}
	if admin == uuid.Nil {
		return ErrInvalidAuthority
	}
	c.Admin = admin
	c.Initialized = true
	return nil
}

// RequireAdmin rejects callers other than the admin.
func (c *ProtocolConfig) RequireAdmin(caller uuid.UUID) error {
	if !c.Initialized {
		return ErrNotInitialized
	}
	if caller != c.Admin {
		return ErrUnauthorized
	}
	return nil
}

// RequireActive rejects every state-mutating call while paused.
func (c *ProtocolConfig) RequireActive() error {
	if !c.Initialized {
		return ErrNotInitialized
	}
	if c.Paused {
		return ErrProtocolPaused
	}
	return nil
}

func (c *ProtocolConfig) Pause(caller uuid.UUID) error {
	if err := c.RequireAdmin(caller); err != nil {
		return err
	}
	if c.Paused {
		return ErrAlreadyPaused
	}
	c.Paused = true
	return nil
}

func (c *ProtocolConfig) Unpause(caller uuid.UUID) error {
	if err := c.RequireAdmin(caller); err != nil {
		return err
	}
	if !c.Paused {
		return ErrNotPaused
	}
	c.Paused = false
	return nil
}

// PauseOracle stops price updates. Existing readings stay readable until
// they go stale.
func (c *ProtocolConfig) PauseOracle(caller uuid.UUID) error {
	if err := c.RequireAdmin(caller); err != nil {
		return err
	}
	if c.OraclePaused {
		return ErrAlreadyPaused
	}
	c.OraclePaused = true
	return nil
}

func (c *ProtocolConfig) UnpauseOracle(caller uuid.UUID) error {
	if err := c.RequireAdmin(caller); err != nil {
		return err
	}
	if !c.OraclePaused {
		return ErrNotPaused
	}
	c.OraclePaused = false
	return nil
}

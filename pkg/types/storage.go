package types

// StoreFileListener observes pooled cycle files being mapped and unmapped.
type StoreFileListener interface {
	OnAcquired(cycle int, path string)
	OnReleased(cycle int, path string)
}

type NopStoreFileListener struct{}

func (NopStoreFileListener) OnAcquired(int, string) {}
func (NopStoreFileListener) OnReleased(int, string) {}

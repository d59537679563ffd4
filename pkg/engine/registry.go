package engine

import (
	"fmt"
	"sort"
	"sync"
)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register делает фабрику движка доступной под именем name.
// Повторная регистрация имени или nil фабрика приводят к панике.
func Register(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if factory == nil {
		panic("engine: Register фабрика nil")
	}
	if _, dup := factories[name]; dup {
		panic("engine: Register вызван дважды для " + name)
	}
	factories[name] = factory
}

// Lookup возвращает зарегистрированную фабрику
func Lookup(name string) (Factory, error) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("engine: неизвестный движок %q (зарегистрированы: %v)", name, registeredLocked())
	}
	return factory, nil
}

// Registered возвращает отсортированный список имен фабрик
func Registered() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	return registeredLocked()
}

func registeredLocked() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

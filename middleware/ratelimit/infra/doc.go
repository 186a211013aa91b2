// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisWindowStore: janela fixa compartilhada (script Lua com INCR + PEXPIRE)
//   - MemoryWindowStore: janela fixa local, para testes e dev
//   - ChanPool: semáforo simples para limite de concorrência
//   - RedisStatsStore / MemoryStatsStore: contadores de decisões
package infra

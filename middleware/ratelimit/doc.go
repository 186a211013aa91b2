// Package ratelimit fornece adapters HTTP (net/http) para rate limit e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (decisão de janela fixa, acquire/timeout) sem net/http
//   - infra: implementações concretas (Redis, memória, semáforo)
//   - ratelimit (este pacote): middlewares HTTP + extração de chave + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai a chave do cliente (header/XFF/IP)
//  2. Chama a camada application para consumir uma vaga da janela
//  3. Se bloqueado, responde 429 (rate limit) ou 503 (store fora com política closed, ou sem vaga de concorrência)
//  4. Se permitido, chama o próximo handler (ex: reverse proxy)
package ratelimit

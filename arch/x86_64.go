package arch

func init() {
	register(&Model{
		Name:         "x86_64",
		PointerSize:  8,
		SymbolRelocs: []string{"R_X86_64_64", "R_X86_64_GLOB_DAT"},
		tableText:    commonTable,
		trampText: `
  .globl {{.Sym}}
{{- if .Hidden}}
  .hidden {{.Sym}}
{{- end}}
  .p2align 4
  .type {{.Sym}}, %function
{{.Sym}}:
  .cfi_startproc
  // Make the fall-through the unlikely path so the static predictor
  // favors the resolved case.
  cmpq $0, _{{.Tag}}_tramp_table+{{.Offset}}(%rip)
  je 2f
1:
  jmp *_{{.Tag}}_tramp_table+{{.Offset}}(%rip)
2:
  pushq ${{.Number}}
  .cfi_adjust_cfa_offset 8
  call _{{.Tag}}_save_regs_and_resolve
  addq $8, %rsp
  .cfi_adjust_cfa_offset -8
  jmp 1b
  .cfi_endproc
`,
		glueText: `
  .text

  .globl _{{.Tag}}_tramp_resolve
  .hidden _{{.Tag}}_tramp_resolve

  .globl _{{.Tag}}_save_regs_and_resolve
  .hidden _{{.Tag}}_save_regs_and_resolve
  .type _{{.Tag}}_save_regs_and_resolve, %function
_{{.Tag}}_save_regs_and_resolve:
  .cfi_startproc

#define PUSH_REG(reg) pushq %reg ; .cfi_adjust_cfa_offset 8 ; .cfi_rel_offset reg, 0
#define POP_REG(reg) popq %reg ; .cfi_adjust_cfa_offset -8 ; .cfi_restore reg

#define DEC_STACK(d) subq $d, %rsp ; .cfi_adjust_cfa_offset d
#define INC_STACK(d) addq $d, %rsp ; .cfi_adjust_cfa_offset -d

#define PUSH_XMM_REG(reg) DEC_STACK(16) ; movaps %reg, (%rsp) ; .cfi_rel_offset reg, 0
#define POP_XMM_REG(reg) movaps (%rsp), %reg ; .cfi_restore reg ; INC_STACK(16)

  // The caller pushed the symbol index right above our return address.
  PUSH_REG(rdi)
  mov 0x10(%rsp), %rdi
  PUSH_REG(rax)
  PUSH_REG(rbx)
  PUSH_REG(rcx)
  PUSH_REG(rdx)
  PUSH_REG(rbp)
  PUSH_REG(rsi)
  PUSH_REG(r8)
  PUSH_REG(r9)
  PUSH_REG(r10)
  PUSH_REG(r11)
  PUSH_REG(r12)
  PUSH_REG(r13)
  PUSH_REG(r14)
  PUSH_REG(r15)
  PUSH_XMM_REG(xmm0)
  PUSH_XMM_REG(xmm1)
  PUSH_XMM_REG(xmm2)
  PUSH_XMM_REG(xmm3)
  PUSH_XMM_REG(xmm4)
  PUSH_XMM_REG(xmm5)
  PUSH_XMM_REG(xmm6)
  PUSH_XMM_REG(xmm7)

  // Stack is 16-byte aligned here: 15 pushes plus the return address
  // and index slot.
  call _{{.Tag}}_tramp_resolve

  POP_XMM_REG(xmm7)
  POP_XMM_REG(xmm6)
  POP_XMM_REG(xmm5)
  POP_XMM_REG(xmm4)
  POP_XMM_REG(xmm3)
  POP_XMM_REG(xmm2)
  POP_XMM_REG(xmm1)
  POP_XMM_REG(xmm0)
  POP_REG(r15)
  POP_REG(r14)
  POP_REG(r13)
  POP_REG(r12)
  POP_REG(r11)
  POP_REG(r10)
  POP_REG(r9)
  POP_REG(r8)
  POP_REG(rsi)
  POP_REG(rbp)
  POP_REG(rdx)
  POP_REG(rcx)
  POP_REG(rbx)
  POP_REG(rax)
  POP_REG(rdi)

  ret

  .cfi_endproc

#undef PUSH_REG
#undef POP_REG
#undef DEC_STACK
#undef INC_STACK
#undef PUSH_XMM_REG
#undef POP_XMM_REG
`,
	})
}
